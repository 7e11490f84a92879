package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/mycontacts/internal/db"
	"github.com/nkiryanov/mycontacts/internal/handlers"
	"github.com/nkiryanov/mycontacts/internal/logger"
	"github.com/nkiryanov/mycontacts/internal/repository"
	"github.com/nkiryanov/mycontacts/internal/repository/memory"
	"github.com/nkiryanov/mycontacts/internal/repository/postgres"
	"github.com/nkiryanov/mycontacts/internal/service/auth"
	"github.com/nkiryanov/mycontacts/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/mycontacts/internal/service/avatar"
	"github.com/nkiryanov/mycontacts/internal/service/contact"
	"github.com/nkiryanov/mycontacts/internal/service/mail"
	"github.com/nkiryanov/mycontacts/internal/service/ratelimit"
)

const (
	shutdownTimeout = 5 * time.Second

	// Requests per minute for every contacts route
	contactsRateLimit = 15
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger     logger.Logger
	dispatcher *mail.Dispatcher

	// Released after server stopped, in reverse order
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// Connect to the database and run migrations
	var storage repository.Storage
	if c.DatabaseDSN == "" {
		logger.Warn("Database is not configured, in memory storage is used. Data will be lost on restart")
		storage = memory.NewStorage()
	} else {
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		app.closers = append(app.closers, pool.Close)
		storage = postgres.NewStorage(pool)
	}

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: c.SecretKey, Alg: c.Algorithm})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	authService, err := auth.NewService(auth.Config{RevokeOnPasswordReset: c.RevokeOnPasswordReset}, tokenManager, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	var sender mail.Sender = mail.LogSender{Logger: logger}
	if c.MailServer != "" {
		sender, err = mail.NewSMTPSender(mail.SMTPConfig{
			Host:     c.MailServer,
			Port:     c.MailPort,
			Username: c.MailUsername,
			Password: c.MailPassword,
			From:     c.MailFrom,
		})
		if err != nil {
			return nil, fmt.Errorf("error while creating mail sender. Err: %w", err)
		}
	} else {
		logger.Warn("SMTP server is not configured, emails are written to log")
	}
	app.dispatcher = mail.NewDispatcher(mail.DispatcherConfig{}, sender, logger)

	services := handlers.Services{
		Auth:      authService,
		Mailer:    mail.NewMailer(app.dispatcher),
		Storage:   storage,
		Contacts:  contact.NewService(storage, time.Now),
		PublicURL: c.BaseURL(),
	}

	if c.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis is not reachable, requests are not limited until it is up", "error", err)
		}
		services.Limiter = ratelimit.New(rdb, ratelimit.Config{})
		services.ContactLimiter = ratelimit.New(rdb, ratelimit.Config{Limit: contactsRateLimit, Window: time.Minute})
	}

	if c.S3Bucket != "" {
		avatars, err := avatar.New(ctx, avatar.Config{
			Bucket:    c.S3Bucket,
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			PublicURL: c.S3PublicURL,
		}, storage)
		if err != nil {
			return nil, fmt.Errorf("error while creating avatar storage. Err: %w", err)
		}
		services.Avatars = avatars
	}

	app.Handler = handlers.NewRouter(services, logger)

	return app, nil
}

// Run starts http server and closes gracefully on context cancellation
// Emails queued before shutdown are sent within shutdown timeout
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	mailCtx, mailCancel := context.WithCancel(context.Background())
	defer mailCancel()
	mailStopped := s.dispatcher.Run(mailCtx)

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")

		s.dispatcher.Close()
		select {
		case <-mailStopped:
		case <-timeoutCtx.Done():
			s.logger.Warn("Mail queue was not drained in time, pending emails dropped")
			mailCancel()
			<-mailStopped
		}

		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
