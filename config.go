package dicekv

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultMaxPoolSize  = 20
	DefaultConnTimeout  = 5 * time.Second
	DefaultQueryTimeout = 5 * time.Second
	DefaultIdleTimeout  = 60 * time.Second
	DefaultBackoffBase  = 5 * time.Millisecond
)

// Config holds configuration for a Client.
type Config struct {
	// Host and Port locate the server. Required.
	Host string
	Port int

	// ClientID identifies this client to the server during watch handshakes.
	// Generated when empty.
	ClientID string

	// MaxPoolSize caps the number of concurrently open non-watch connections.
	// Watch connections are not counted. Default: 20.
	MaxPoolSize int

	// ConnTimeout bounds connecting a socket and acquiring one from the pool.
	// Default: 5s.
	ConnTimeout time.Duration

	// QueryTimeout bounds each write/response exchange. Default: 5s.
	QueryTimeout time.Duration

	// IdleTimeout is how long a pooled connection may sit unused before it is
	// closed. Default: 60s.
	IdleTimeout time.Duration

	// BackoffBase is the first wait of the exponential backoff used while the
	// pool is at capacity. Default: 5ms.
	BackoffBase time.Duration

	// Dialer is the net.Dialer used to open connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// Registry holds the commands the client accepts.
	// If nil, DefaultRegistry is used.
	Registry *Registry

	// Pool is the connection pool factory function.
	// If nil, uses NewListPool. NewPuddlePool is the alternative.
	Pool PoolFactory

	// NewCircuitBreaker creates the circuit breaker guarding the server.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) *gobreaker.CircuitBreaker[*Response]

	// Logger receives connection lifecycle events.
	// If nil, logs are discarded.
	Logger logrus.FieldLogger
}

// Addr returns the host:port address of the server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = DefaultMaxPoolSize
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = DefaultConnTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Registry == nil {
		c.Registry = DefaultRegistry()
	}
	if c.Pool == nil {
		c.Pool = NewListPool
	}
	if c.Logger == nil {
		c.Logger = discardLogger()
	}
	return c
}

func (c Config) validate() error {
	if c.Host == "" {
		return &CommandError{Message: "config: host is required"}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return &CommandError{Message: fmt.Sprintf("config: invalid port %d", c.Port)}
	}
	return nil
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
