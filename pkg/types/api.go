package types

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelsResponse wraps the catalog returned by GET /models/available.
type ModelsResponse struct {
	// Models found in the configured models directory.
	Models []Model `json:"models"`
}
