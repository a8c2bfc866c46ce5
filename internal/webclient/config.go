package webclient

import "time"

// Config tunes the HTTP client. The zero value is usable.
type Config struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
	// MaxBodyBytes caps how much of a body is read; zero means no cap.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

const defaultTimeout = 30 * time.Second
