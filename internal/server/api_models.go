package server

// StartRunRequest optionally overrides the configured target for one run.
type StartRunRequest struct {
	Query      string `json:"query" example:"renan-b-eth"`
	TargetText string `json:"target_text" example:"renan-b-eth"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"run not found"`
}
