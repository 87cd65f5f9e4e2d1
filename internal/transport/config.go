package transport

import "time"

type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig points at PEM files for rawsocket, websocket and QUIC TLS.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
}

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport reliability and security settings.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// KeepAlive is the QUIC keep-alive period and the websocket ping interval.
	KeepAlive time.Duration
	// MaxMessageSize bounds inbound frames; rawsocket rounds it to a power of two.
	MaxMessageSize int
	DialAttempts   int
	Backoff        BackoffConfig
	SecurityMode   SecurityMode
	TLS            TLSConfig
}

// DefaultConfig returns development-mode defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		KeepAlive:        15 * time.Second,
		MaxMessageSize:   1 << 20,
		DialAttempts:     5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}
