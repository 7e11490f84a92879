package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/mycontacts/internal/logger"
)

const (
	defaultListenAddr   = "localhost:8000"
	defaultLoggingLevel = logger.LevelInfo
	defaultEnvironment  = logger.EnvProduction
	defaultAlgorithm    = "HS256"
	defaultMailPort     = 465
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the service will be run
	ListenAddr string

	// Base url of the service put into emails, 'http://<ListenAddr>/' if empty
	PublicURL string

	// Database to connect to
	// In memory storage is used if empty, data is lost on restart
	DatabaseDSN string

	// Secret key to sign JWT tokens with. Required
	SecretKey string

	// JWT signing algorithm
	Algorithm string

	// Environment
	Environment string

	// Redis used by rate limiter. Requests are not limited if empty
	RedisAddr string

	// SMTP server. Emails are written to log if empty
	MailServer   string
	MailPort     int
	MailUsername string
	MailPassword string
	MailFrom     string

	// S3 compatible storage for avatars. Avatar upload is disabled if bucket is empty
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string

	// Drop active session on password reset
	RevokeOnPasswordReset bool
}

func NewConfig() *Config {
	return &Config{
		LogLevel:    defaultLoggingLevel,
		ListenAddr:  defaultListenAddr,
		Environment: defaultEnvironment,
		Algorithm:   defaultAlgorithm,
		MailPort:    defaultMailPort,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt := func(o *int) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":              setString(&c.ListenAddr),
		"PUBLIC_URL":               setString(&c.PublicURL),
		"DATABASE_URI":             setString(&c.DatabaseDSN),
		"SECRET_KEY":               setString(&c.SecretKey),
		"ALGORITHM":                setString(&c.Algorithm),
		"LOG_LEVEL":                setString(&c.LogLevel),
		"ENVIRONMENT":              setString(&c.Environment),
		"REDIS_ADDR":               setString(&c.RedisAddr),
		"MAIL_SERVER":              setString(&c.MailServer),
		"MAIL_PORT":                setInt(&c.MailPort),
		"MAIL_USERNAME":            setString(&c.MailUsername),
		"MAIL_PASSWORD":            setString(&c.MailPassword),
		"MAIL_FROM":                setString(&c.MailFrom),
		"S3_BUCKET":                setString(&c.S3Bucket),
		"S3_REGION":                setString(&c.S3Region),
		"S3_ENDPOINT":              setString(&c.S3Endpoint),
		"S3_ACCESS_KEY":            setString(&c.S3AccessKey),
		"S3_SECRET_KEY":            setString(&c.S3SecretKey),
		"S3_PUBLIC_URL":            setString(&c.S3PublicURL),
		"REVOKE_ON_PASSWORD_RESET": setBool(&c.RevokeOnPasswordReset),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("mycontacts", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVar(&c.PublicURL, "public-url", c.PublicURL, "Base url of the service used in emails")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVar(&c.Algorithm, "algorithm", c.Algorithm, "JWT signing algorithm (HS256, HS384, HS512)")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "Redis address for rate limiting")
	fs.BoolVar(&c.RevokeOnPasswordReset, "revoke-on-password-reset", c.RevokeOnPasswordReset, "End active session on password reset")

	return fs.Parse(args)
}

func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return errors.New("secret key must be set, use SECRET_KEY or --secret-key")
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("public url must be absolute http(s) url, got %q", c.PublicURL)
		}
	}
	return nil
}

// Base url for links in emails
func (c *Config) BaseURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return "http://" + c.ListenAddr + "/"
}
