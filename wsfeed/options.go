package wsfeed

import (
	"log/slog"
	"time"

	"github.com/xraph/conveyor/backoff"
	"github.com/xraph/conveyor/codec"
)

type feedConfig struct {
	token      string
	format     string
	logger     *slog.Logger
	kind       string
	buffer     int
	maxRetries int
	retry      backoff.Strategy
}

func defaultConfig() feedConfig {
	return feedConfig{
		format:     codec.NameJSON,
		logger:     slog.Default(),
		buffer:     64,
		maxRetries: 5,
		retry:      backoff.NewExponential(time.Second, 30*time.Second),
	}
}

// Option configures a Feed.
type Option func(*feedConfig)

// WithToken sets the bearer token sent in the hello frame.
func WithToken(token string) Option {
	return func(cfg *feedConfig) { cfg.token = token }
}

// WithFormat requests a frame format, "json" or "msgpack". The server has
// the final say; the feed speaks whatever format the welcome names.
func WithFormat(format string) Option {
	return func(cfg *feedConfig) { cfg.format = format }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *feedConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithKind restricts the feed to one job kind. Job frames carrying any
// other kind are logged and dropped.
func WithKind(kind string) Option {
	return func(cfg *feedConfig) { cfg.kind = kind }
}

// WithBuffer sets how many undelivered requests the feed holds before the
// read loop blocks waiting for polls.
func WithBuffer(n int) Option {
	return func(cfg *feedConfig) {
		if n > 0 {
			cfg.buffer = n
		}
	}
}

// WithReconnect sets how many times a dropped connection is redialed
// before the feed gives up and closes. Zero disables reconnection.
func WithReconnect(maxRetries int) Option {
	return func(cfg *feedConfig) { cfg.maxRetries = maxRetries }
}

// WithRetryBackoff sets the delay strategy between reconnect attempts.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(cfg *feedConfig) {
		if s != nil {
			cfg.retry = s
		}
	}
}
