package engine

import (
	"errors"
	"net/http"
)

// Messages carried by precondition and failure envelopes.
const (
	msgNotLoaded         = "Model has not been loaded, please load model into " + EngineTag
	msgAlreadyLoaded     = "Model already loaded, please unload it first"
	msgLoadFailed        = "Failed to load model"
	msgLoaded            = "Model loaded successfully"
	msgUnloaded          = "Model unloaded successfully"
	msgInferenceFailed   = "Error during inference"
	msgAborted           = "Model unloaded during inference"
	msgEmbeddingUnsupp   = "Engine does not support embedding yet"
	msgModelStatusUnsupp = "Engine does not support get model status method yet"
)

// notLoadedError is returned for operations that need a loaded model.
type notLoadedError struct{}

func (notLoadedError) Error() string { return msgNotLoaded }
func (notLoadedError) StatusCode() int { return http.StatusConflict }

// IsNotLoaded reports whether err indicates no model is loaded.
func IsNotLoaded(err error) bool {
	var e notLoadedError
	return errors.As(err, &e)
}

type alreadyLoadedError struct{ modelID string }

func (e alreadyLoadedError) Error() string { return msgAlreadyLoaded + ": " + e.modelID }
func (alreadyLoadedError) StatusCode() int { return http.StatusConflict }

// IsAlreadyLoaded reports whether err indicates the model slot is occupied.
func IsAlreadyLoaded(err error) bool {
	var e alreadyLoadedError
	return errors.As(err, &e)
}

// loadError wraps a runtime failure while opening a model.
type loadError struct {
	path string
	err  error
}

func (e loadError) Error() string { return "load " + e.path + ": " + e.err.Error() }
func (e loadError) Unwrap() error { return e.err }
func (loadError) StatusCode() int { return http.StatusInternalServerError }

// IsLoadFailed reports whether err is a model load failure.
func IsLoadFailed(err error) bool {
	var e loadError
	return errors.As(err, &e)
}

// inferenceError wraps a runtime failure during encode, generate or decode.
type inferenceError struct {
	op  string
	err error
}

func (e inferenceError) Error() string { return "inference " + e.op + ": " + e.err.Error() }
func (e inferenceError) Unwrap() error { return e.err }
func (inferenceError) StatusCode() int { return http.StatusInternalServerError }

// IsInference reports whether err is an inference failure.
func IsInference(err error) bool {
	var e inferenceError
	return errors.As(err, &e)
}

// errAborted signals a generation stopped by cancellation before completion.
var errAborted = errors.New("generation aborted")

// IsAborted reports whether err indicates cooperative cancellation.
func IsAborted(err error) bool { return errors.Is(err, errAborted) }

// errDispatcherClosed is returned by Submit after Close.
var errDispatcherClosed = errors.New("dispatcher closed")
