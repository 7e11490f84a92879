package mail

import (
	"context"
	"errors"
	"sync"

	"github.com/nkiryanov/mycontacts/internal/logger"
)

const (
	defaultCountWorkers = 4
	defaultQueueSize    = 100
)

var (
	ErrQueueFull   = errors.New("mail queue is full")
	ErrQueueClosed = errors.New("mail queue is closed")
)

// Dispatcher sends queued emails with pool of workers
// Send failures are logged only
type Dispatcher struct {
	countWorkers int
	sender       Sender
	logger       logger.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Email
}

type DispatcherConfig struct {
	CountWorkers int
	QueueSize    int
}

func NewDispatcher(cfg DispatcherConfig, sender Sender, logger logger.Logger) *Dispatcher {
	if cfg.CountWorkers <= 0 {
		cfg.CountWorkers = defaultCountWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	return &Dispatcher{
		countWorkers: cfg.CountWorkers,
		sender:       sender,
		logger:       logger,
		queue:        make(chan Email, cfg.QueueSize),
	}
}

// Put email to queue without waiting
func (d *Dispatcher) Enqueue(email Email) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrQueueClosed
	}

	select {
	case d.queue <- email:
		return nil
	default:
		d.logger.Warn("Mail queue is full, email dropped", "subject", email.Subject)
		return ErrQueueFull
	}
}

// Stop accepting new emails
// Workers send what is already queued and stop
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Start workers. Returned channel is closed when all workers stopped:
// either queue closed and drained or ctx is done
func (d *Dispatcher) Run(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})

	var wg sync.WaitGroup
	for range d.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}

	go func() {
		defer close(stopped)
		wg.Wait()
		d.logger.Debug("Mail dispatcher stopped")
	}()

	return stopped
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case email, ok := <-d.queue:
			if !ok {
				return
			}

			if err := d.sender.Send(ctx, email); err != nil {
				d.logger.Error("Failed to send email", "error", err, "subject", email.Subject)
				continue
			}
			d.logger.Debug("Email sent", "subject", email.Subject)
		}
	}
}
