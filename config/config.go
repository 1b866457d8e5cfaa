package config

import (
	"fmt"
	"time"
)

// Config represents a courier.yaml configuration file. Zero values fall
// back to the defaults from Default; programmatic embedders can skip the
// file entirely and fill the struct directly.
type Config struct {
	// Domain is the service domain used when rendering wire addresses.
	Domain string `yaml:"domain"`

	// MaxPayloadSize is the byte ceiling for a single message payload,
	// applied before any transport work happens.
	MaxPayloadSize int `yaml:"max_payload_size"`

	// ReceiptKey obfuscates delivery-receipt tokens. Both ends of a
	// deployment must share it.
	ReceiptKey string `yaml:"receipt_key"`

	Admission AdmissionConfig `yaml:"admission"`
	Ack       AckConfig       `yaml:"ack"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
}

// AdmissionConfig bounds the inbound message rate per application.
type AdmissionConfig struct {
	// RateLimit is the per-app ceiling of inbound messages per window.
	RateLimit int `yaml:"rate_limit"`
	// RateWindow is the length of one admission window.
	RateWindow Duration `yaml:"rate_window"`
}

// AckConfig tunes the background acknowledgement sender.
type AckConfig struct {
	// QueueSize bounds the pending-ack queue; enqueueing past the bound
	// blocks the inbound path until the worker catches up.
	QueueSize int `yaml:"queue_size"`
	// Timeout bounds one ack or status round trip.
	Timeout Duration `yaml:"timeout"`
}

// RedisConfig locates the Redis persistence backend. An empty address
// selects the in-memory store.
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NATSConfig locates the NATS backend for wakeup scheduling and alert
// posting. An empty URL keeps both in-process.
type NATSConfig struct {
	URL           string `yaml:"url"`
	WakeupSubject string `yaml:"wakeup_subject"`
	AlertSubject  string `yaml:"alert_subject"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Domain:         "localhost",
		MaxPayloadSize: 2 * 1024 * 1024,
		Admission: AdmissionConfig{
			RateLimit:  5000,
			RateWindow: Duration{time.Second},
		},
		Ack: AckConfig{
			QueueSize: 1000,
			Timeout:   Duration{10 * time.Second},
		},
		Redis: RedisConfig{
			KeyPrefix: "courier",
		},
		NATS: NATSConfig{
			WakeupSubject: "courier.wakeup",
			AlertSubject:  "courier.alerts",
		},
	}
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: domain must not be empty")
	}
	if c.MaxPayloadSize <= 0 {
		return fmt.Errorf("config: max_payload_size must be positive, got %d", c.MaxPayloadSize)
	}
	if c.Admission.RateLimit <= 0 {
		return fmt.Errorf("config: admission.rate_limit must be positive, got %d", c.Admission.RateLimit)
	}
	if c.Admission.RateWindow.Duration <= 0 {
		return fmt.Errorf("config: admission.rate_window must be positive, got %s", c.Admission.RateWindow.Duration)
	}
	if c.Ack.QueueSize <= 0 {
		return fmt.Errorf("config: ack.queue_size must be positive, got %d", c.Ack.QueueSize)
	}
	if c.Ack.Timeout.Duration <= 0 {
		return fmt.Errorf("config: ack.timeout must be positive, got %s", c.Ack.Timeout.Duration)
	}
	return nil
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration back in string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}
