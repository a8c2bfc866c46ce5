package webclient

import (
	"net/http"
	"time"
)

type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	// Truncated is set when the body was cut at Config.MaxBodyBytes.
	Truncated bool
	FetchedAt time.Time
}
