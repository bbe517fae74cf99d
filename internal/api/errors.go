package api

import (
	"errors"
	"net/http"

	"github.com/samcharles93/loraspect/internal/lora"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// classify maps an inspector error to an HTTP status and error type.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, lora.ErrKeyNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.Is(err, lora.ErrWeightsNotLoaded):
		return http.StatusConflict, "weights_not_loaded_error"
	case errors.Is(err, lora.ErrUnsupportedNetworkType),
		errors.Is(err, lora.ErrUnrecognizedAlgorithm),
		errors.Is(err, lora.ErrMetadataParse):
		return http.StatusUnprocessableEntity, "unsupported_adapter_error"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}
