// Package config loads the roomseal configuration file.
//
// The file is TOML, normally ~/.roomseal/config.toml. Every value has a
// default; command-line flags override file values.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration that unmarshals from TOML strings like
// "30s" or "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Exchange holds the key exchange protocol tunables.
type Exchange struct {
	RequestTimeout Duration `toml:"request_timeout"`
	RetryMin       Duration `toml:"retry_min"`
	RetryMax       Duration `toml:"retry_max"`
	MaxRetries     int      `toml:"max_retries"`
}

// Session holds the coordinator tunables.
type Session struct {
	SendTimeout Duration `toml:"send_timeout"`
}

// Config is the full file.
type Config struct {
	Home      string `toml:"home"`
	ServerURL string `toml:"server_url"`
	Member    string `toml:"member"`
	LogLevel  string `toml:"log_level"`

	Exchange Exchange `toml:"exchange"`
	Session  Session  `toml:"session"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Exchange: Exchange{
			RequestTimeout: Duration{30 * time.Second},
			RetryMin:       Duration{100 * time.Millisecond},
			RetryMax:       Duration{5 * time.Second},
			MaxRetries:     4,
		},
		Session: Session{
			SendTimeout: Duration{30 * time.Second},
		},
	}
}

// Load reads the file at path over the defaults. A missing file is not
// an error; the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
