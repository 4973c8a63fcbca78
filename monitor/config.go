package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the immutable run configuration. It is loaded once and passed
// into New; nothing reads configuration ambiently.
type Config struct {
	// RINs is the set of tracked rule identifiers.
	RINs []string `yaml:"rins"`
	// DataDirectory is the snapshot store root. Default: reginfo_data.
	DataDirectory string `yaml:"data_directory"`
	// KeepFiles is the number of snapshots retained per identifier.
	// Absent means 2; an explicit 0 retains nothing, so every pass is a
	// fresh baseline.
	KeepFiles *int `yaml:"keep_files"`
	// Journal is the run-history SQLite path. Empty disables the journal.
	Journal string `yaml:"journal"`
	// MaxConcurrent bounds how many identifiers are checked at once.
	// Default: 1 (sequential).
	MaxConcurrent int `yaml:"max_concurrent"`
	// Email configures the notifier. Without username and password the
	// notifier skips delivery instead of failing.
	Email EmailConfig `yaml:"email"`
}

// EmailConfig holds SMTP notifier settings.
type EmailConfig struct {
	SMTPServer  string `yaml:"smtp_server"`
	SMTPPort    int    `yaml:"smtp_port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	FromAddress string `yaml:"from_address"`
	ToAddress   string `yaml:"to_address"`
}

// DefaultConfig returns the configuration used when no config file exists:
// an empty tracked set with working defaults everywhere else.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDirectory == "" {
		c.DataDirectory = "reginfo_data"
	}
	if c.KeepFiles == nil {
		keep := 2
		c.KeepFiles = &keep
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.Email.SMTPServer == "" {
		c.Email.SMTPServer = "smtp.gmail.com"
	}
	if c.Email.SMTPPort <= 0 {
		c.Email.SMTPPort = 587
	}
}

// KeepCount returns the effective retention count.
func (c Config) KeepCount() int {
	if c.KeepFiles == nil {
		return 2
	}
	return *c.KeepFiles
}

func (c Config) validate() error {
	if c.KeepFiles != nil && *c.KeepFiles < 0 {
		return fmt.Errorf("monitor: keep_files must be >= 0, got %d", *c.KeepFiles)
	}
	for _, rin := range c.RINs {
		if !validRIN(rin) {
			return fmt.Errorf("%w: %q", ErrInvalidIdentifier, rin)
		}
	}
	return nil
}

// validRIN reports whether rin is usable as a storage directory name:
// non-empty, no path separators, no traversal, no NUL.
func validRIN(rin string) bool {
	if rin == "" || rin == "." || rin == ".." {
		return false
	}
	if strings.ContainsAny(rin, `/\`) || strings.ContainsRune(rin, 0) {
		return false
	}
	return true
}

const defaultConfigFile = `# reginfo-monitor configuration
#
# RINs to track, e.g.
#   rins:
#     - "1234-AB01"
rins: []

# Where snapshots are stored, one subdirectory per RIN.
data_directory: reginfo_data

# Snapshots retained per RIN after each pass. 0 retains nothing.
keep_files: 2

# SQLite run-history database. Empty disables the journal.
journal: ""

# Identifiers checked concurrently within one pass.
max_concurrent: 1

# Email notification. Leave username/password empty to disable delivery.
email:
  smtp_server: smtp.gmail.com
  smtp_port: 587
  username: ""
  password: ""
  from_address: ""
  to_address: ""
`

// LoadConfig reads the YAML configuration at path. When the file does not
// exist a commented default is written there for the operator to edit and
// the default configuration (empty tracked set) is returned; startup never
// fails for a missing config. Unknown keys are rejected.
func LoadConfig(path string, logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if werr := os.WriteFile(path, []byte(defaultConfigFile), 0o644); werr != nil {
			logger.Warn("config: could not write default file", "path", path, "error", werr)
		} else {
			logger.Info("config: wrote default file, edit it to add RINs", "path", path)
		}
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("monitor: read config %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("monitor: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
