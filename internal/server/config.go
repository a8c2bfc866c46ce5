package server

import "github.com/raysh454/permafind/internal/logging"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server (the CLI
	// runs the orchestrator in-process and does not need the network).
	ListenAddr string

	Logger logging.Logger
}
