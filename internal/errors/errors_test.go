package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vango-dev/vango-use/pkg/storage"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "config error",
			code:    CodeConfigSyntax,
			wantMsg: "Invalid configuration syntax",
			wantCat: CategoryConfig,
		},
		{
			name:    "store error",
			code:    CodeQuotaExceeded,
			wantMsg: "Storage quota exceeded",
			wantCat: CategoryStore,
		},
		{
			name:    "hub error",
			code:    CodeHubDial,
			wantMsg: "Cannot connect to hub",
			wantCat: CategoryHub,
		},
		{
			name:    "unknown error code",
			code:    "E999",
			wantMsg: "Unknown error",
			wantCat: CategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryCLI, "scope %q is empty", "prefs")
	if err.Message != `scope "prefs" is empty` {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Code != "" {
		t.Errorf("Code = %q, want empty", err.Code)
	}
}

func TestError_Error(t *testing.T) {
	if got, want := New(CodeKeyNotFound).Error(), "E203: Key not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := New(CodeStoreOpen).Wrap(fmt.Errorf("disk gone"))
	if got, want := wrapped.Error(), "E200: Cannot open store: disk gone"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	plain := &Error{Message: "test error"}
	if plain.Error() != "test error" {
		t.Errorf("Error() = %q, want %q", plain.Error(), "test error")
	}
}

func TestError_WithLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storectl.json")
	content := "{\n  \"backend\": \"sqlite\",\n  \"kind\": \"forever\",\n  \"scope\": \"app\"\n}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	err := New(CodeInvalidKind).WithLocation(path, 3, 11)
	if err.Location == nil {
		t.Fatal("Location is nil")
	}
	if err.Location.Line != 3 || err.Location.Column != 11 {
		t.Errorf("Location = %v", err.Location)
	}
	if len(err.Context) == 0 {
		t.Error("Context should not be empty")
	}
}

func TestError_WithOffset(t *testing.T) {
	data := []byte("{\n  \"backend\": \"file\",\n  \"kind\" \"durable\"\n}\n")
	offset := int64(bytes.Index(data, []byte(`"durable"`)))

	err := New(CodeConfigSyntax).WithOffset("storectl.json", data, offset)
	if err.Location == nil {
		t.Fatal("Location is nil")
	}
	if err.Location.Line != 3 {
		t.Errorf("Line = %d, want 3", err.Location.Line)
	}
	if err.Location.Column != 10 {
		t.Errorf("Column = %d, want 10", err.Location.Column)
	}
	if len(err.Context) != 5 {
		t.Errorf("Context = %q, want 5 lines", err.Context)
	}

	untouched := New(CodeConfigSyntax).WithOffset("storectl.json", data, 1000)
	if untouched.Location != nil {
		t.Error("out of range offset should not set a location")
	}
}

func TestError_Builders(t *testing.T) {
	err := New(CodeMissingSetting).
		WithDetailf("backend %q needs %s", "s3", "a bucket").
		WithSuggestion("Set s3.bucket").
		WithExample(`{"backend": "s3", "s3": {"bucket": "prefs"}}`)

	if err.Detail != `backend "s3" needs a bucket` {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Suggestion != "Set s3.bucket" {
		t.Errorf("Suggestion = %q", err.Suggestion)
	}
	if !strings.Contains(err.Example, "prefs") {
		t.Errorf("Example = %q", err.Example)
	}
}

func TestError_Wrap(t *testing.T) {
	inner := New(CodeUnavailable)
	outer := New(CodeInternal).Wrap(inner)

	if outer.Unwrap() != inner {
		t.Error("Unwrap() should return wrapped error")
	}
	var target *Error
	if !stderrors.As(fmt.Errorf("ctx: %w", outer), &target) || target != outer {
		t.Error("errors.As should find the outer error")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, CodeInternal) != nil {
		t.Error("FromError(nil, ...) should return nil")
	}

	coded := New(CodeHubListen)
	if FromError(fmt.Errorf("serve: %w", coded), CodeInternal) != coded {
		t.Error("FromError should return a coded error found in the chain")
	}

	plain := stderrors.New("boom")
	got := FromError(plain, CodeStoreOpen)
	if got.Code != CodeStoreOpen || got.Wrapped != plain {
		t.Errorf("FromError = %+v", got)
	}
}

func TestFromStorage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"quota", storage.NewQuotaError("set", "k", nil), CodeQuotaExceeded},
		{"unavailable", storage.NewUnavailableError("get", "k", nil), CodeUnavailable},
		{"decode", &storage.CodecError{Op: "decode", Err: stderrors.New("bad")}, CodeDecode},
		{"encode", &storage.CodecError{Op: "encode", Err: stderrors.New("bad")}, CodeEncode},
		{"cell wraps store", &storage.CellError{Key: "k", Op: "write", Err: storage.NewQuotaError("set", "k", nil)}, CodeQuotaExceeded},
		{"not listable", fmt.Errorf("wrap: %w", storage.ErrNotListable), CodeListUnsupported},
		{"other", stderrors.New("boom"), CodeInternal},
		{"already coded", New(CodeKeyNotFound), CodeKeyNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromStorage(tt.err)
			if got.Code != tt.want {
				t.Errorf("code = %q, want %q", got.Code, tt.want)
			}
		})
	}

	if FromStorage(nil) != nil {
		t.Error("FromStorage(nil) should return nil")
	}
}

func TestLocation_String(t *testing.T) {
	tests := []struct {
		name string
		loc  *Location
		want string
	}{
		{"nil location", nil, ""},
		{"with column", &Location{File: "storectl.json", Line: 10, Column: 5}, "storectl.json:10:5"},
		{"without column", &Location{File: "storectl.json", Line: 10}, "storectl.json:10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	data := []byte("{\n  \"backend\": \"sqlite\"\n  \"kind\": \"session\"\n}\n")
	err := New(CodeConfigSyntax).
		WithOffset("storectl.json", data, int64(bytes.Index(data, []byte(`"kind"`)))).
		Wrap(stderrors.New("invalid character")).
		WithSuggestion("Add a comma after the previous field").
		WithExample(`{"backend": "sqlite", "kind": "session"}`)

	formatted := err.Format()

	for _, want := range []string{
		"ERROR E101: Invalid configuration syntax",
		"storectl.json:3:3",
		"→    3 │   \"kind\": \"session\"",
		"Cause: invalid character",
		"Hint: Add a comma",
		"Example:",
		"Learn more: " + docBase + "E101",
	} {
		if !strings.Contains(formatted, want) {
			t.Errorf("Format() missing %q:\n%s", want, formatted)
		}
	}
}

func TestFormatCompact(t *testing.T) {
	err := New(CodeInvalidKind).WithLocation("storectl.json", 10, 5)
	want := "storectl.json:10:5: E104: Invalid storage kind"
	if got := err.FormatCompact(); got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFormatJSON(t *testing.T) {
	err := New(CodeQuotaExceeded).
		Wrap(stderrors.New("full")).
		WithLocation("storectl.json", 2, 0)

	var got map[string]any
	if jerr := json.Unmarshal([]byte(err.FormatJSON()), &got); jerr != nil {
		t.Fatalf("FormatJSON is not JSON: %v", jerr)
	}
	if got["code"] != CodeQuotaExceeded {
		t.Errorf("code = %v", got["code"])
	}
	if got["category"] != string(CategoryStore) {
		t.Errorf("category = %v", got["category"])
	}
	if got["cause"] != "full" {
		t.Errorf("cause = %v", got["cause"])
	}
	loc, ok := got["location"].(map[string]any)
	if !ok || loc["line"] != float64(2) {
		t.Errorf("location = %v", got["location"])
	}
	if _, hasCol := loc["column"]; hasCol {
		t.Error("zero column should be omitted")
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, storage.NewUnavailableError("set", "theme", nil), false)
	if !strings.Contains(buf.String(), "ERROR E201: Storage unavailable") {
		t.Errorf("Fprint text = %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, stderrors.New("boom"), true)
	if !strings.Contains(buf.String(), `"code":"E500"`) {
		t.Errorf("Fprint json = %q", buf.String())
	}
}

func TestRegistryCodes(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 {
		t.Fatal("GetAllCodes() should return codes")
	}
	for _, code := range codes {
		tmpl, _ := GetTemplate(code)
		if tmpl.Message == "" {
			t.Errorf("%s has no message", code)
		}
		if !strings.HasSuffix(tmpl.DocURL, code) {
			t.Errorf("%s doc URL = %q", code, tmpl.DocURL)
		}
	}

	if _, ok := GetTemplate("E999"); ok {
		t.Error("E999 should not exist")
	}
}

func TestRegister(t *testing.T) {
	Register("E999", ErrorTemplate{
		Category: CategoryCLI,
		Message:  "Custom test error",
		DocURL:   "https://test.dev/E999",
	})
	defer delete(registry, "E999")

	if err := New("E999"); err.Message != "Custom test error" {
		t.Errorf("Message = %q, want %q", err.Message, "Custom test error")
	}
}

func TestWrapText(t *testing.T) {
	if got := wrapText("short text", 100); len(got) != 1 || got[0] != "short text" {
		t.Errorf("wrapText short text: got %v", got)
	}
	if got := wrapText("this is a longer text that should be wrapped", 20); len(got) != 3 {
		t.Errorf("wrapText long text: expected 3 lines, got %d: %v", len(got), got)
	}
	if got := wrapText("", 10); len(got) != 0 {
		t.Errorf("wrapText empty: expected empty, got %v", got)
	}
}

func TestColorFunctions(t *testing.T) {
	EnableColors()
	if !strings.Contains(red("test"), "\033[31m") {
		t.Error("red should contain ANSI code when colors enabled")
	}

	DisableColors()
	if strings.Contains(red("test"), "\033[") {
		t.Error("red should not contain ANSI code when colors disabled")
	}
	EnableColors()
}
