package monitor

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileWritesDefault(t *testing.T) {
	// WHAT: a missing config file is not an error: a commented default is
	// written for the operator and the returned config has an empty tracked
	// set with working defaults.
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.RINs) != 0 {
		t.Errorf("rins = %v, want empty", cfg.RINs)
	}
	if cfg.DataDirectory != "reginfo_data" {
		t.Errorf("data_directory = %q", cfg.DataDirectory)
	}
	if cfg.KeepCount() != 2 {
		t.Errorf("keep count = %d, want 2", cfg.KeepCount())
	}
	if cfg.Email.SMTPServer != "smtp.gmail.com" || cfg.Email.SMTPPort != 587 {
		t.Errorf("email defaults = %+v", cfg.Email)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("default file not written: %v", err)
	}

	// The generated file must load back cleanly.
	again, err := LoadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reload generated default: %v", err)
	}
	if again.KeepCount() != 2 || again.DataDirectory != "reginfo_data" {
		t.Errorf("reloaded config = %+v", again)
	}
}

func TestLoadConfig_ValuesAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
rins:
  - "1234-AB01"
  - "5678-CD02"
data_directory: /var/lib/rinmon
keep_files: 5
journal: rinmon.db
email:
  username: watcher@example.org
  password: hunter2
  from_address: watcher@example.org
  to_address: ops@example.org
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.RINs) != 2 || cfg.RINs[0] != "1234-AB01" {
		t.Errorf("rins = %v", cfg.RINs)
	}
	if cfg.KeepCount() != 5 {
		t.Errorf("keep count = %d, want 5", cfg.KeepCount())
	}
	if cfg.Journal != "rinmon.db" {
		t.Errorf("journal = %q", cfg.Journal)
	}
	// Unset SMTP host and port still pick up defaults.
	if cfg.Email.SMTPServer != "smtp.gmail.com" || cfg.Email.SMTPPort != 587 {
		t.Errorf("email = %+v", cfg.Email)
	}
	if cfg.MaxConcurrent != 1 {
		t.Errorf("max_concurrent = %d, want 1", cfg.MaxConcurrent)
	}
}

func TestLoadConfig_ExplicitKeepZero(t *testing.T) {
	// WHAT: keep_files: 0 is a real setting (retain nothing), distinct
	// from the key being absent (default 2).
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("keep_files: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KeepCount() != 0 {
		t.Errorf("keep count = %d, want 0", cfg.KeepCount())
	}
}

func TestLoadConfig_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"negative keep", "keep_files: -1\n"},
		{"unknown key", "kept_files: 3\n"},
		{"path traversal rin", "rins:\n  - \"../../etc\"\n"},
		{"separator in rin", "rins:\n  - \"a/b\"\n"},
		{"empty rin", "rins:\n  - \"\"\n"},
	}
	for _, tc := range cases {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
			t.Errorf("%s: accepted, want error", tc.name)
		}
	}
}

func TestLoadConfig_InvalidIdentifierSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("rins: [\"..\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, ErrInvalidIdentifier) {
		t.Errorf("err = %v, want ErrInvalidIdentifier", err)
	}
}
