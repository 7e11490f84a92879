// Package avatar stores user avatars in S3 compatible storage.
package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nkiryanov/mycontacts/internal/apperrors"
	"github.com/nkiryanov/mycontacts/internal/models"
	"github.com/nkiryanov/mycontacts/internal/repository"
)

const (
	MaxSize   = 5 << 20 // 5 MiB
	keyPrefix = "avatars/"
)

type Config struct {
	Bucket string
	Region string

	// Custom endpoint for S3 compatible storages like minio. AWS if empty
	Endpoint  string
	AccessKey string
	SecretKey string

	// Base url avatars are served from. Endpoint/bucket if empty
	PublicURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Service struct {
	client    objectPutter
	bucket    string
	publicURL string
	storage   repository.Storage
}

// Create service with S3 client built from config
// Static credentials are used if access key is set, default aws credentials chain otherwise
func New(ctx context.Context, cfg Config, storage repository.Storage) (*Service, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("can't load aws config. Err: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(cfg, client, storage)
}

func NewWithClient(cfg Config, client objectPutter, storage repository.Storage) (*Service, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket must be set")
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
		}
		publicURL = strings.TrimSuffix(endpoint, "/") + "/" + cfg.Bucket
	}

	return &Service{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
		storage:   storage,
	}, nil
}

// Upload image and set it as user avatar. Previous avatar is overwritten
func (s *Service) Upload(ctx context.Context, user models.User, body io.Reader, size int64, contentType string) (models.User, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return user, fmt.Errorf("%w: content type %q is not an image", apperrors.ErrAvatarInvalid, contentType)
	}
	if size <= 0 || size > MaxSize {
		return user, fmt.Errorf("%w: size must be up to %d bytes", apperrors.ErrAvatarInvalid, MaxSize)
	}

	key := keyPrefix + user.Username
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return user, fmt.Errorf("can't upload avatar. Err: %w", err)
	}

	url := s.publicURL + "/" + key
	if err := s.storage.User().SetAvatarURL(ctx, user.Email, url); err != nil {
		return user, err
	}

	user.AvatarURL = &url
	return user, nil
}
