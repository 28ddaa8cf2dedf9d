package server

import "errors"

// Sentinel errors for server error conditions.
var (
	// ErrServerClosed is returned when the server is shutting down.
	ErrServerClosed = errors.New("server: closed")

	// ErrMaxConnections is returned when the connection limit is reached.
	ErrMaxConnections = errors.New("server: maximum connections reached")

	// ErrInvalidPath is returned when an endpoint path is empty, relative or
	// shared by two endpoints.
	ErrInvalidPath = errors.New("server: invalid endpoint path")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("server: invalid configuration")

	// ErrNoDictionary is returned when the server has no dictionary.
	ErrNoDictionary = errors.New("server: dictionary required")
)
