package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/vango-dev/vango-use/pkg/storage"
)

// Category groups error codes.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryStore   Category = "store"
	CategoryCodec   Category = "codec"
	CategoryHub     Category = "hub"
	CategoryCLI     Category = "cli"
	CategoryUnknown Category = ""
)

// Location points into a file, usually the configuration file.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as file:line[:column].
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a coded error with an explanation, a hint and an optional
// location, printed by storectl before it exits.
type Error struct {
	// Code is the registry code, e.g. "E201".
	Code string

	Category Category

	// Message is a short description.
	Message string

	// Detail is a longer explanation.
	Detail string

	// Location is where in a file the problem was found.
	Location *Location

	// Context holds the lines around Location.
	Context []string

	// Suggestion is a hint on how to fix the problem.
	Suggestion string

	// Example shows a working command or configuration snippet.
	Example string

	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithLocation records a file position and reads the surrounding lines.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithOffset records the position of byte offset in data, which was read
// from file. JSON decoders report syntax errors this way.
func (e *Error) WithOffset(file string, data []byte, offset int64) *Error {
	if offset < 0 || offset > int64(len(data)) {
		return e
	}
	line, col := 1, 1
	for _, b := range data[:offset] {
		if b == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	e.Location = &Location{File: file, Line: line, Column: col}
	e.Context = contextLines(strings.Split(string(data), "\n"), line, 5)
	return e
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) WithExample(ex string) *Error {
	e.Example = ex
	return e
}

// WithDetail replaces the registered explanation.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// WithDetailf is WithDetail with formatting.
func (e *Error) WithDetailf(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

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

// contextLines returns the lines around targetLine (1-based). The window is
// centered so Format can number it from the location.
func contextLines(all []string, targetLine, contextSize int) []string {
	start := targetLine - contextSize/2
	end := targetLine + contextSize/2
	var lines []string
	for n := start; n <= end; n++ {
		if n < 1 {
			continue
		}
		if n > len(all) {
			break
		}
		lines = append(lines, all[n-1])
	}
	return lines
}

// New creates an Error from a registered code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   template.DocURL,
	}
}

// Newf creates an uncoded Error.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err under code. An *Error anywhere in err's chain is
// returned as is.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

// FromStorage classifies an error returned by a store, cell or codec and
// wraps it under the matching code. Anything else falls back to E500.
func FromStorage(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	var codecErr *storage.CodecError
	switch {
	case storage.IsQuotaExceeded(err):
		return New(CodeQuotaExceeded).Wrap(err)
	case storage.IsUnavailable(err):
		return New(CodeUnavailable).Wrap(err)
	case stderrors.Is(err, storage.ErrNotListable):
		return New(CodeListUnsupported).Wrap(err)
	case stderrors.As(err, &codecErr):
		if codecErr.Op == "encode" {
			return New(CodeEncode).Wrap(err)
		}
		return New(CodeDecode).Wrap(err)
	}
	return New(CodeInternal).Wrap(err)
}
