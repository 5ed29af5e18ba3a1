package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"onnxd/pkg/types"
)

// HTTPError allows request helpers to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

type requestError struct {
	code int
	msg  string
}

func (e requestError) Error() string   { return e.msg }
func (e requestError) StatusCode() int { return e.code }

func badRequest(msg string) error { return requestError{code: http.StatusBadRequest, msg: msg} }

// statusFor maps err to an HTTP status, defaulting to 500.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError writes err using the status it carries.
func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}
