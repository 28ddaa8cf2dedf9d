package errors

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryProtocol Category = "protocol"
	CategoryCapture  Category = "capture"
	CategoryServer   Category = "server"
	CategoryCLI      Category = "cli"
)

// Location represents a position in a file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// UIWireError is a structured error with location, suggestion and
// documentation.
type UIWireError struct {
	// Code is a unique error identifier (e.g., "U001").
	Code string

	// Category is the error type (config, protocol, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the file position where the error occurred.
	Location *Location

	// Context contains the lines surrounding Location.
	Context []string

	// Stream locates the error inside a decoded byte stream.
	Stream *StreamPos

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *UIWireError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *UIWireError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a file location to the error.
func (e *UIWireError) WithLocation(file string, line, column int) *UIWireError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, contextSize)
	return e
}

// WithOffset locates the error at byte offset within data, which was read
// from file. Offsets come from encoding/json syntax and type errors.
func (e *UIWireError) WithOffset(file string, data []byte, offset int64) *UIWireError {
	if offset < 0 || offset > int64(len(data)) {
		return e
	}
	before := data[:offset]
	line := bytes.Count(before, []byte{'\n'}) + 1
	col := len(before) - bytes.LastIndexByte(before, '\n')
	e.Location = &Location{File: file, Line: line, Column: col}
	e.Context = contextLines(data, line, contextSize)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *UIWireError) WithSuggestion(s string) *UIWireError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *UIWireError) WithDetail(d string) *UIWireError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *UIWireError) Wrap(err error) *UIWireError {
	e.Wrapped = err
	return e
}

// contextSize is the number of source lines shown around a location.
const contextSize = 5

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, size int) []string {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil
	}
	return contextLines(data, targetLine, size)
}

func contextLines(data []byte, targetLine, size int) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0
	startLine := targetLine - size/2
	endLine := targetLine + size/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return lines
}

// New creates a UIWireError from a registered error code.
func New(code string) *UIWireError {
	template, ok := registry[code]
	if !ok {
		return &UIWireError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &UIWireError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
		DocURL:     template.DocURL,
	}
}

// Newf creates a new UIWireError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *UIWireError {
	return &UIWireError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a UIWireError.
func FromError(err error, code string) *UIWireError {
	if err == nil {
		return nil
	}
	if ue, ok := err.(*UIWireError); ok {
		return ue
	}
	return New(code).Wrap(err)
}
