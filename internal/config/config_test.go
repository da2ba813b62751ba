package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/vango-use/internal/errors"
	"github.com/vango-dev/vango-use/pkg/storage"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func code(err error) string {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Backend != DefaultBackend {
		t.Errorf("Backend = %q, want %q", cfg.Backend, DefaultBackend)
	}
	if cfg.StorageKind() != storage.Durable {
		t.Errorf("StorageKind() = %v, want durable", cfg.StorageKind())
	}
	if cfg.Scope != DefaultScope {
		t.Errorf("Scope = %q, want %q", cfg.Scope, DefaultScope)
	}
	if cfg.SQLitePath() != DefaultSQLitePath {
		t.Errorf("SQLitePath() = %q, want %q", cfg.SQLitePath(), DefaultSQLitePath)
	}
	if cfg.PingInterval() != 30*time.Second {
		t.Errorf("PingInterval() = %v", cfg.PingInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(dir)
	if code(err) != errors.CodeConfigRead {
		t.Errorf("missing config: err = %v, want %s", err, errors.CodeConfigRead)
	}

	writeConfig(t, dir, `{
  "backend": "file",
  "kind": "session",
  "scope": "prefs",
  "codec": "json",
  "file": {"dir": "state", "quota": 1024, "noWatch": true},
  "hub": {"addr": "0.0.0.0:9000", "origins": ["https://a.example"], "metrics": true}
}
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Backend != BackendFile {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.StorageKind() != storage.Session {
		t.Errorf("Kind = %q", cfg.Kind)
	}
	if cfg.Scope != "prefs" || cfg.Codec != "json" {
		t.Errorf("Scope/Codec = %q/%q", cfg.Scope, cfg.Codec)
	}
	if cfg.FileDir() != filepath.Join(dir, "state") {
		t.Errorf("FileDir() = %q", cfg.FileDir())
	}
	if cfg.File.Quota != 1024 || !cfg.File.NoWatch {
		t.Errorf("File = %+v", cfg.File)
	}
	if !cfg.Hub.Metrics || len(cfg.Hub.Origins) != 1 {
		t.Errorf("Hub = %+v", cfg.Hub)
	}
	if got := cfg.SyncURL("prefs"); got != "ws://0.0.0.0:9000/sync/prefs" {
		t.Errorf("SyncURL() = %q", got)
	}
	if cfg.Hub.PingInterval != DefaultHubPingInterval {
		t.Errorf("PingInterval default not applied: %q", cfg.Hub.PingInterval)
	}
	if cfg.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", cfg.Dir(), dir)
	}
}

func TestLoadFile_SyntaxError(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "{\n  \"backend\": \"file\"\n  \"kind\": \"session\"\n}\n")

	_, err := LoadFile(path)
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("err = %v, want coded error", err)
	}
	if e.Code != errors.CodeConfigSyntax {
		t.Errorf("Code = %q, want %q", e.Code, errors.CodeConfigSyntax)
	}
	if e.Location == nil || e.Location.Line != 3 {
		t.Errorf("Location = %v, want line 3", e.Location)
	}
	if e.Suggestion == "" {
		t.Error("syntax errors should carry a hint")
	}
}

func TestLoadFile_TypeError(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `{"sqlite": {"maxBytes": "lots"}}`)

	_, err := LoadFile(path)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Code != errors.CodeConfigSyntax {
		t.Fatalf("err = %v, want %s", err, errors.CodeConfigSyntax)
	}
	if !strings.Contains(e.Detail, "maxBytes") {
		t.Errorf("Detail = %q, want the field name", e.Detail)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := New()
	err := cfg.ApplyEnv(map[string]string{
		"STORECTL_BACKEND":           "s3",
		"STORECTL_KIND":              "session",
		"STORECTL_S3_BUCKET":         "prefs",
		"STORECTL_S3_REGION":         "eu-west-1",
		"STORECTL_S3_USE_PATH_STYLE": "true",
		"STORECTL_S3_ACCESS_KEY_ID":  "AKID",
		"STORECTL_SQLITE_MAX_BYTES":  "2048",
		"STORECTL_HUB_ORIGINS":       "https://a.example,https://b.example",
		"UNRELATED":                  "x",
	})
	if err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}

	if cfg.Backend != BackendS3 || cfg.Kind != "session" {
		t.Errorf("Backend/Kind = %q/%q", cfg.Backend, cfg.Kind)
	}
	if cfg.S3.Bucket != "prefs" || cfg.S3.Region != "eu-west-1" || !cfg.S3.UsePathStyle {
		t.Errorf("S3 = %+v", cfg.S3)
	}
	if cfg.S3.AccessKeyID != "AKID" {
		t.Errorf("AccessKeyID = %q", cfg.S3.AccessKeyID)
	}
	if cfg.SQLite.MaxBytes != 2048 {
		t.Errorf("SQLite.MaxBytes = %d", cfg.SQLite.MaxBytes)
	}
	if len(cfg.Hub.Origins) != 2 {
		t.Errorf("Hub.Origins = %v", cfg.Hub.Origins)
	}
	if cfg.Scope != DefaultScope {
		t.Errorf("unset variables should keep values, Scope = %q", cfg.Scope)
	}
}

func TestApplyEnv_Invalid(t *testing.T) {
	cfg := New()
	err := cfg.ApplyEnv(map[string]string{"STORECTL_FILE_QUOTA": "a lot"})
	if code(err) != errors.CodeEnvOverride {
		t.Errorf("err = %v, want %s", err, errors.CodeEnvOverride)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory", func(c *Config) { c.Backend = BackendMemory }, ""},
		{"unknown backend", func(c *Config) { c.Backend = "redis" }, errors.CodeUnknownBackend},
		{"bad kind", func(c *Config) { c.Kind = "forever" }, errors.CodeInvalidKind},
		{"local alias", func(c *Config) { c.Kind = "local" }, ""},
		{"bad codec", func(c *Config) { c.Codec = "xml" }, errors.CodeInvalidSetting},
		{"s3 without bucket", func(c *Config) { c.Backend = BackendS3 }, errors.CodeMissingSetting},
		{"s3 without region", func(c *Config) {
			c.Backend = BackendS3
			c.S3.Bucket = "b"
		}, errors.CodeMissingSetting},
		{"s3 with endpoint", func(c *Config) {
			c.Backend = BackendS3
			c.S3.Bucket = "b"
			c.S3.Endpoint = "http://localhost:9000"
		}, ""},
		{"negative sqlite limit", func(c *Config) { c.SQLite.MaxBytes = -1 }, errors.CodeInvalidSetting},
		{"negative file quota", func(c *Config) { c.File.Quota = -1 }, errors.CodeInvalidSetting},
		{"bad ping interval", func(c *Config) { c.Hub.PingInterval = "soon" }, errors.CodeInvalidSetting},
		{"zero write timeout", func(c *Config) { c.Hub.WriteTimeout = "0s" }, errors.CodeInvalidSetting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if got := code(cfg.Validate()); got != tt.want {
				t.Errorf("Validate() code = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)

	cfg := New()
	cfg.Scope = "saved"
	cfg.S3.SecretAccessKey = "secret"

	if err := cfg.Save(); err == nil {
		t.Error("Expected error when saving without path")
	}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("credentials must not be written to the config file")
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if loaded.Scope != "saved" {
		t.Errorf("Scope = %q, want saved", loaded.Scope)
	}
	if loaded.Path() != path {
		t.Errorf("Path() = %q, want %q", loaded.Path(), path)
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{}`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot error: %v", err)
	}
	if got != root {
		t.Errorf("FindProjectRoot() = %q, want %q", got, root)
	}
	if !Exists(root) || Exists(nested) {
		t.Error("Exists mismatch")
	}
}

func TestResolve(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{"backend": "memory", "scope": "file-scope"}`)

	cfg, err := Resolve("", root, map[string]string{"STORECTL_SCOPE": "env-scope"})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.Scope != "env-scope" {
		t.Errorf("environment should win, Scope = %q", cfg.Scope)
	}

	if _, err := Resolve(filepath.Join(root, "missing.json"), root, map[string]string{}); code(err) != errors.CodeConfigRead {
		t.Errorf("explicit missing path: err = %v", err)
	}

	_, err = Resolve("", root, map[string]string{"STORECTL_BACKEND": "redis"})
	if code(err) != errors.CodeUnknownBackend {
		t.Errorf("invalid override: err = %v", err)
	}
}

func TestResolve_Overrides(t *testing.T) {
	root := t.TempDir()

	cfg, err := Resolve("", root,
		map[string]string{"STORECTL_BACKEND": "redis", "STORECTL_OTEL_ENDPOINT": "http://collector:4318"},
		func(c *Config) { c.Backend = BackendMemory },
	)
	if err != nil {
		t.Fatalf("a flag override should fix an invalid environment value: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.OTel.Endpoint != "http://collector:4318" || cfg.OTel.ServiceName != DefaultServiceName {
		t.Errorf("OTel = %+v", cfg.OTel)
	}
}
