package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
	DocURL     string
}

const docBase = "https://github.com/vango-dev/uiwire/blob/main/docs/errors.md#"

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Config Errors (U001-U019)
	// ============================================

	"U001": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "No uiwire.json was found in the working directory or any parent directory.",
		Suggestion: "Pass --config or create uiwire.json in the project root.",
		DocURL:     docBase + "u001",
	},
	"U002": {
		Category: CategoryConfig,
		Message:  "Invalid config syntax",
		Detail:   "The config file is not valid JSON.",
		DocURL:   docBase + "u002",
	},
	"U003": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A config field is out of range or has the wrong type.",
		DocURL:   docBase + "u003",
	},
	"U004": {
		Category:   CategoryConfig,
		Message:    "Invalid dictionary entry",
		Detail:     "Every dictionary entry needs a tag below 0xF0, a known kind and a unique tag. Only integer kinds and DOUBLE can be compressed.",
		Suggestion: `Kinds are NULL, BOOLEAN, BYTE, SHORT, INTEGER, LONG, FLOAT, DOUBLE, STRING, JSON_OBJECT and ARRAY.`,
		DocURL:     docBase + "u004",
	},

	// ============================================
	// Protocol Errors (U020-U039)
	// ============================================

	"U020": {
		Category: CategoryProtocol,
		Message:  "Malformed stream",
		Detail:   "The byte stream contains a tag, marker or payload that can never decode. The stream cannot be resynchronized.",
		DocURL:   docBase + "u020",
	},
	"U021": {
		Category:   CategoryProtocol,
		Message:    "Unknown tag",
		Detail:     "A tag byte is not defined in the dictionary. Both peers must be built with the same dictionary.",
		Suggestion: "Check that the dictionary in uiwire.json matches the one the peer was built with.",
		DocURL:     docBase + "u021",
	},
	"U022": {
		Category:   CategoryProtocol,
		Message:    "Protocol version mismatch",
		Detail:     "The peer announced a protocol version this build does not speak.",
		Suggestion: "Upgrade the older peer.",
		DocURL:     docBase + "u022",
	},
	"U023": {
		Category:   CategoryProtocol,
		Message:    "Allocation limit exceeded",
		Detail:     "A string or JSON payload declares a length above the configured allocation limit.",
		Suggestion: "Raise limits.maxAllocation in uiwire.json if the payload is legitimate.",
		DocURL:     docBase + "u023",
	},
	"U024": {
		Category: CategoryProtocol,
		Message:  "Truncated stream",
		Detail:   "The stream ended in the middle of a frame.",
		DocURL:   docBase + "u024",
	},

	// ============================================
	// Capture Errors (U040-U059)
	// ============================================

	"U040": {
		Category: CategoryCapture,
		Message:  "Capture not found",
		Detail:   "No capture with this name exists in the configured store.",
		DocURL:   docBase + "u040",
	},
	"U041": {
		Category: CategoryCapture,
		Message:  "Corrupt capture",
		Detail:   "The capture file is not in the uiwire capture format or is truncated.",
		DocURL:   docBase + "u041",
	},
	"U042": {
		Category:   CategoryCapture,
		Message:    "Capture store unavailable",
		Detail:     "The capture store could not be opened.",
		Suggestion: "For the s3 backend, set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY.",
		DocURL:     docBase + "u042",
	},

	// ============================================
	// Server Errors (U060-U079)
	// ============================================

	"U060": {
		Category:   CategoryServer,
		Message:    "Listen failed",
		Detail:     "The server could not bind its listen address.",
		Suggestion: "Check that no other process uses the port, or pass --addr.",
		DocURL:     docBase + "u060",
	},

	// ============================================
	// CLI Errors (U080-U099)
	// ============================================

	"U080": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
		Detail:   "A command-line argument has an invalid value.",
		DocURL:   docBase + "u080",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
