package demoserver

import "time"

// Config holds configuration for the demo server.
type Config struct {
	// Port is the port on which the demo server listens.
	Port int

	// InitialMode is how cards link to projects at startup (default: none).
	InitialMode Mode

	// Fillers is the number of generated builds listed before the target,
	// so the target card only appears after scrolling.
	Fillers int

	// APILatency delays every /api response.
	APILatency time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:        9999,
		InitialMode: ModeNone,
		Fillers:     40,
	}
}
