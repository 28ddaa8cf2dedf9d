package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Style selects how errors are printed.
type Style int

const (
	// StyleText prints the source context, cause and hint over several lines.
	StyleText Style = iota
	// StyleCompact prints location, code and message on one line.
	StyleCompact
	// StyleJSON prints one JSON object per error.
	StyleJSON
)

// ParseStyle parses a --errors flag value. Empty means text.
func ParseStyle(s string) (Style, error) {
	switch s {
	case "", "text":
		return StyleText, nil
	case "compact":
		return StyleCompact, nil
	case "json":
		return StyleJSON, nil
	}
	return StyleText, Newf(CategoryCLI, "unknown error style %q", s).
		WithSuggestion("Use text, compact or json.")
}

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

var colorEnabled = true

// DisableColors turns off ANSI escapes in Format.
func DisableColors() {
	colorEnabled = false
}

// EnableColors turns ANSI escapes back on.
func EnableColors() {
	colorEnabled = true
}

func paint(code, text string) string {
	if !colorEnabled {
		return text
	}
	return code + text + ansiReset
}

// Format renders the error for a terminal.
func (e *UIWireError) Format() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(paint(ansiRed+ansiBold, "ERROR"))
	if e.Code != "" {
		b.WriteString(" " + paint(ansiBold, e.Code))
	}
	b.WriteString(": " + e.Message + "\n\n")

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s\n\n", paint(ansiCyan, e.Location.String()))
		writeSource(&b, e.Location, e.Context)
	}
	if e.Stream != nil {
		fmt.Fprintf(&b, "  %s %s\n\n", paint(ansiCyan, "Stream:"), e.Stream)
	}

	if lines := wrapText(e.Detail, 70); len(lines) > 0 {
		for _, line := range lines {
			b.WriteString("  " + line + "\n")
		}
		b.WriteString("\n")
	}

	if e.Wrapped != nil {
		writeField(&b, ansiYellow, "Cause", e.Wrapped.Error())
	}
	writeField(&b, ansiCyan, "Hint", e.Suggestion)
	writeField(&b, ansiGray, "Learn more", e.DocURL)
	return b.String()
}

// writeSource prints the context lines with a gutter, marking the error line
// and column.
func writeSource(b *strings.Builder, loc *Location, lines []string) {
	if len(lines) == 0 {
		return
	}
	first := max(loc.Line-contextSize/2, 1)
	bar := paint(ansiGray, "│")
	for i, text := range lines {
		n := first + i
		marker := "  "
		if n == loc.Line {
			marker = paint(ansiRed, "→ ")
		}
		fmt.Fprintf(b, "  %s%4d %s %s\n", marker, n, bar, text)
		if n == loc.Line && loc.Column > 0 {
			fmt.Fprintf(b, "         %s %s%s\n", bar, strings.Repeat(" ", loc.Column-1), paint(ansiRed, "^"))
		}
	}
	b.WriteString("\n")
}

func writeField(b *strings.Builder, code, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s %s\n\n", paint(code, label+":"), value)
}

// FormatCompact renders the error on one line, e.g.
// "uiwire.json:4:3: U002: Invalid config syntax".
func (e *UIWireError) FormatCompact() string {
	var parts []string
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	msg := e.Message
	if e.Stream != nil {
		msg += " (" + e.Stream.String() + ")"
	}
	return strings.Join(append(parts, msg), ": ")
}

type jsonError struct {
	Code       string     `json:"code,omitempty"`
	Category   Category   `json:"category"`
	Message    string     `json:"message"`
	Detail     string     `json:"detail,omitempty"`
	Location   *Location  `json:"location,omitempty"`
	Stream     *StreamPos `json:"stream,omitempty"`
	Suggestion string     `json:"suggestion,omitempty"`
	DocURL     string     `json:"docUrl,omitempty"`
	Cause      string     `json:"cause,omitempty"`
}

// FormatJSON renders the error as a single JSON object.
func (e *UIWireError) FormatJSON() string {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Location:   e.Location,
		Stream:     e.Stream,
		Suggestion: e.Suggestion,
		DocURL:     e.DocURL,
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"message":%q}`, e.Message)
	}
	return string(data)
}

func wrapText(text string, width int) []string {
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return lines
}

// Fprint writes err to w in the given style.
func Fprint(w io.Writer, err *UIWireError, style Style) {
	switch style {
	case StyleCompact:
		fmt.Fprintln(w, err.FormatCompact())
	case StyleJSON:
		fmt.Fprintln(w, err.FormatJSON())
	default:
		fmt.Fprint(w, err.Format())
	}
}

// PrintError prints err to stderr in the text style. Errors without a code
// print their message only.
func PrintError(err error) {
	ue, ok := err.(*UIWireError)
	if !ok {
		ue = &UIWireError{Message: err.Error()}
	}
	Fprint(os.Stderr, ue, StyleText)
}
