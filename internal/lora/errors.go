package lora

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrKeyNotFound            = errors.New("key not found")
	ErrUnsupportedNetworkType = errors.New("unsupported network type")
	ErrMetadataParse          = errors.New("metadata parse error")
	ErrWeightsNotLoaded       = errors.New("weights not loaded")
	ErrUnrecognizedAlgorithm  = errors.New("unrecognized algorithm")
	ErrBackend                = errors.New("tensor backend error")
)

// KeyNotFoundError names a tensor key that a reconstruction needed.
type KeyNotFoundError struct {
	Key string
}

func (e *KeyNotFoundError) Error() string { return fmt.Sprintf("key not found: %s", e.Key) }

func (e *KeyNotFoundError) Unwrap() error { return ErrKeyNotFound }

type UnsupportedNetworkTypeError struct {
	Type NetworkType
}

func (e *UnsupportedNetworkTypeError) Error() string {
	return fmt.Sprintf("unsupported network type: %s", e.Type)
}

func (e *UnsupportedNetworkTypeError) Unwrap() error { return ErrUnsupportedNetworkType }

// MetadataParseError reports a malformed metadata value, such as invalid
// ss_network_args JSON.
type MetadataParseError struct {
	Field string
	Err   error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("parse metadata %s: %v", e.Field, e.Err)
}

func (e *MetadataParseError) Unwrap() []error { return []error{ErrMetadataParse, e.Err} }

type UnrecognizedAlgorithmError struct {
	Algo string
}

func (e *UnrecognizedAlgorithmError) Error() string {
	return fmt.Sprintf("unrecognized algorithm: %q", e.Algo)
}

func (e *UnrecognizedAlgorithmError) Unwrap() error { return ErrUnrecognizedAlgorithm }

// BackendError wraps a failure from a tensor operation.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string { return fmt.Sprintf("tensor %s: %v", e.Op, e.Err) }

func (e *BackendError) Unwrap() []error { return []error{ErrBackend, e.Err} }

func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Op: op, Err: err}
}
