// Package errors provides the coded, actionable errors storectl prints
// before it exits.
//
// Every code maps to a short message, an explanation and a documentation
// link. Codes are grouped by category:
//   - config (E100-E199): storectl.json and STORECTL_* overrides
//   - store (E200-E299): opening and using a storage backend
//   - codec (E300-E399): values that cannot be encoded or decoded
//   - hub (E400-E499): the WebSocket change hub
//   - cli (E500-E599): everything else
//
// Errors returned by pkg/storage are classified with FromStorage, so a quota
// failure deep inside a backend still reaches the user as E202.
//
// # Usage
//
//	err := errors.New(errors.CodeMissingSetting).
//	    WithDetail(`backend "sqlite" needs a database path`).
//	    WithSuggestion("Set sqlite.path in storectl.json or STORECTL_SQLITE_PATH")
//
//	fmt.Print(err.Format())
//	// ERROR E103: Missing backend setting
//	//
//	//   backend "sqlite" needs a database path
//	//
//	//   Hint: Set sqlite.path in storectl.json or STORECTL_SQLITE_PATH
//	//
//	//   Learn more: https://vango.dev/docs/storectl/errors/E103
package errors
