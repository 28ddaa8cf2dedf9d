// Package errors provides structured, actionable error messages for the
// uiwire command and config loader.
//
// Each error has a unique code (e.g., "U021") that maps to a short message,
// a detailed explanation, an optional hint and a documentation URL.
//
// # Error Categories
//
//   - config: uiwire.json could not be found, parsed or validated
//   - protocol: a stream failed to decode
//   - capture: a recorded capture is missing or corrupt
//   - server: the server could not start
//   - cli: bad command-line input
//
// # Usage
//
//	err := errors.New("U002").
//	    WithOffset("uiwire.json", data, syntaxErr.Offset).
//	    Wrap(syntaxErr)
//
//	errors.PrintError(err)
//	// ERROR U002: Invalid config syntax
//	//
//	//   uiwire.json:4:3
//	//
//	//       2 │   "server": {
//	//       3 │     "addr": ":8080",
//	//   →   4 │   }
//	//         │   ^
//	//
//	//   The config file is not valid JSON.
//
// Stream errors converted with FromProtocol also carry the offset and tag
// of the unit that failed. Fprint prints in the text, compact or JSON style
// chosen with the CLI's --errors flag.
package errors
