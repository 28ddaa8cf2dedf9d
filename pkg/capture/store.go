package capture

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a capture doesn't exist.
	ErrNotFound = errors.New("capture: not found")

	// ErrTooLarge is returned when a capture exceeds the store's size limit.
	ErrTooLarge = errors.New("capture: too large")

	// ErrInvalidName is returned for names that are empty or contain a path
	// separator.
	ErrInvalidName = errors.New("capture: invalid name")
)

// Store is the interface for capture storage backends.
type Store interface {
	// Save stores the capture read from r under name, replacing any
	// previous capture with the same name.
	Save(ctx context.Context, name string, r io.Reader) error

	// Open returns the capture stored under name.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// List returns the stored captures.
	List(ctx context.Context) ([]Info, error)

	// Cleanup removes captures older than maxAge.
	Cleanup(ctx context.Context, maxAge time.Duration) error
}

// Info describes a stored capture.
type Info struct {
	Name      string
	Size      int64
	CreatedAt time.Time
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return ErrInvalidName
	}
	return nil
}
