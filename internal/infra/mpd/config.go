package mpd

import (
	"net"
	"strconv"
	"time"
)

const (
	DefaultHost    = "localhost"
	DefaultPort    = 6600
	DefaultTimeout = 10 * time.Second
	DefaultCoolOff = 5 * time.Second
)

// Config is everything an Engine needs from its surroundings.
type Config struct {
	Host     string
	Port     int
	Password string

	// Timeout bounds connect, every read and every write.
	Timeout time.Duration
	// CoolOff is the wait between a failed connection and the next attempt.
	CoolOff time.Duration

	// ElideReads drops status/stats commands already pending in the queue.
	ElideReads bool
	// ListAllFallback retries listallinfo as a search on servers lacking it.
	ListAllFallback bool

	// ReadBufferSize is the socket read chunk; 0 means 4096.
	ReadBufferSize int
}

// DefaultConfig returns the configuration for a local server.
func DefaultConfig() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Timeout:         DefaultTimeout,
		CoolOff:         DefaultCoolOff,
		ElideReads:      true,
		ListAllFallback: true,
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CoolOff < 0 {
		c.CoolOff = 0
	}
	return c
}
