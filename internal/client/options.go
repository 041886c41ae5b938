package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options configures a Manager. Every field can be set from the environment.
type Options struct {
	// URL is the relay's WebSocket endpoint.
	URL string `env:"AMONGPALE_CLIENT_URL" envDefault:"ws://localhost:3000/"`
	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration `env:"AMONGPALE_CLIENT_DIAL_TIMEOUT" envDefault:"5s"`
	// ReconnectDelay is the base of the linear reconnect schedule: attempt n waits n*ReconnectDelay.
	ReconnectDelay time.Duration `env:"AMONGPALE_CLIENT_RECONNECT_DELAY" envDefault:"2s"`
	// MaxReconnectAttempts is the number of retries before giving up.
	MaxReconnectAttempts int `env:"AMONGPALE_CLIENT_MAX_RECONNECT_ATTEMPTS" envDefault:"5"`
	// MoveInterval is the throttle window for outbound moves and the interpolation window for remote ones.
	MoveInterval time.Duration `env:"AMONGPALE_CLIENT_MOVE_INTERVAL" envDefault:"50ms"`
}

// DefaultOptions returns the same values OptionsFromEnv yields with an empty environment.
func DefaultOptions() Options {
	return Options{
		URL:                  "ws://localhost:3000/",
		DialTimeout:          5 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
		MoveInterval:         50 * time.Millisecond,
	}
}

// OptionsFromEnv parses Options from AMONGPALE_CLIENT_* variables.
//
// Postcondition: Returns valid Options or a non-nil error.
func OptionsFromEnv() (Options, error) {
	var opts Options
	if err := env.Parse(&opts); err != nil {
		return Options{}, fmt.Errorf("parsing client environment: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks all option invariants.
//
// Postcondition: Returns nil if options are valid, or an error describing all violations.
func (o Options) Validate() error {
	var errs []string
	if !strings.HasPrefix(o.URL, "ws://") && !strings.HasPrefix(o.URL, "wss://") {
		errs = append(errs, fmt.Sprintf("url must be ws:// or wss://, got %q", o.URL))
	}
	if o.DialTimeout <= 0 {
		errs = append(errs, "dial_timeout must be positive")
	}
	if o.ReconnectDelay <= 0 {
		errs = append(errs, "reconnect_delay must be positive")
	}
	if o.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Sprintf("max_reconnect_attempts must be >= 0, got %d", o.MaxReconnectAttempts))
	}
	if o.MoveInterval <= 0 {
		errs = append(errs, "move_interval must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("client options validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
