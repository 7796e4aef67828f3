// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmylchreest/xvrun/internal/core"
	"github.com/jmylchreest/xvrun/internal/display"
)

// AppName names the config, data and runtime directories.
const AppName = "xvrun"

// Default configuration values.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultInterval       = 100 * time.Millisecond
	DefaultDelay          = 2 * time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultMonitorRun     = time.Hour
	DefaultMaxLines       = 500
	DefaultLogPattern     = "*.txt"
	DefaultLogsDir        = "logs"
	DefaultHealthInterval = 2 * time.Second
)

// DefaultFrontendCommand is the headless web front-end started by default.
var DefaultFrontendCommand = []string{"streamlit", "run", "app.py"}

// DefaultHeadlessArgs switch the default front-end into headless mode.
var DefaultHeadlessArgs = []string{"--server.headless", "true"}

// Config represents the xvrun configuration.
type Config struct {
	Display   DisplayConfig   `toml:"display"`
	Readiness ReadinessConfig `toml:"readiness"`
	Frontend  FrontendConfig  `toml:"frontend"`
	Launch    LaunchConfig    `toml:"launch"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Daemon    DaemonConfig    `toml:"daemon"`
	History   HistoryConfig   `toml:"history"`
}

// DisplayConfig describes the virtual display server.
type DisplayConfig struct {
	Number      int      `toml:"number"`       // Display number, 99 -> ":99"
	Geometry    string   `toml:"geometry"`     // "WxHxD"
	Server      string   `toml:"server"`       // Server binary, resolved via PATH
	ExtraArgs   []string `toml:"extra_args"`   // Appended to the server command line
	NoListenTCP bool     `toml:"nolisten_tcp"` // Pass "-nolisten tcp"
	Policy      string   `toml:"policy"`       // fail, next, reuse
	Scan        int      `toml:"scan"`         // Numbers tried by policy "next"
	SocketDir   string   `toml:"socket_dir"`
	LockDir     string   `toml:"lock_dir"`
}

// ReadinessConfig controls how xvrun waits for the display.
type ReadinessConfig struct {
	Strategy string   `toml:"strategy"` // probe, delay
	Timeout  Duration `toml:"timeout"`  // probe: give up after this long
	Interval Duration `toml:"interval"` // probe: polling interval
	Delay    Duration `toml:"delay"`    // delay: fixed sleep
}

// FrontendConfig describes the process started once the display is up.
type FrontendConfig struct {
	Command      []string          `toml:"command"`
	HeadlessArgs []string          `toml:"headless_args"`
	Headless     bool              `toml:"headless"`
	Dir          string            `toml:"dir"`
	Env          map[string]string `toml:"env"`
}

// LaunchConfig controls what the launcher does with the front-end.
type LaunchConfig struct {
	Mode        string   `toml:"mode"`         // supervise, exec
	StopTimeout Duration `toml:"stop_timeout"` // SIGTERM -> SIGKILL grace
	KeepDisplay bool     `toml:"keep_display"` // Leave our server running after the front-end exits
}

// MonitorConfig holds settings for watching a job's log files.
type MonitorConfig struct {
	LogsDir     string   `toml:"logs_dir"`
	Pattern     string   `toml:"pattern"`
	Duration    Duration `toml:"duration"`
	MaxLines    int      `toml:"max_lines"`
	StopOnError bool     `toml:"stop_on_error"`
}

// DaemonConfig holds settings for xvrund.
type DaemonConfig struct {
	HealthInterval Duration `toml:"health_interval"`
}

// HistoryConfig holds defaults for the history and prune commands.
type HistoryConfig struct {
	Since     string `toml:"since"`      // Default time filter, e.g. "7d", "0" for all
	Limit     int    `toml:"limit"`      // Maximum rows shown, 0 for unlimited
	OlderThan string `toml:"older_than"` // prune: remove runs older than this
	Keep      int    `toml:"keep"`       // prune: always keep the newest N runs
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	paths := display.DefaultPaths()
	return &Config{
		Display: DisplayConfig{
			Number:      display.DefaultNumber,
			Geometry:    display.DefaultGeometry.String(),
			Server:      display.DefaultServerBinary,
			NoListenTCP: true,
			Policy:      string(display.PolicyFail),
			Scan:        display.DefaultScan,
			SocketDir:   paths.SocketDir,
			LockDir:     paths.LockDir,
		},
		Readiness: ReadinessConfig{
			Strategy: string(StrategyProbe),
			Timeout:  Duration(DefaultTimeout),
			Interval: Duration(DefaultInterval),
			Delay:    Duration(DefaultDelay),
		},
		Frontend: FrontendConfig{
			Command:      append([]string(nil), DefaultFrontendCommand...),
			HeadlessArgs: append([]string(nil), DefaultHeadlessArgs...),
			Headless:     true,
			Env:          make(map[string]string),
		},
		Launch: LaunchConfig{
			Mode:        string(ModeSupervise),
			StopTimeout: Duration(DefaultStopTimeout),
		},
		Monitor: MonitorConfig{
			LogsDir:     DefaultLogsDir,
			Pattern:     DefaultLogPattern,
			Duration:    Duration(DefaultMonitorRun),
			MaxLines:    DefaultMaxLines,
			StopOnError: true,
		},
		Daemon: DaemonConfig{
			HealthInterval: Duration(DefaultHealthInterval),
		},
		History: HistoryConfig{
			Since:     "0",
			OlderThan: "30d",
			Keep:      100,
		},
	}
}

// ConfigPath returns the path to the config file.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config.
func ConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, AppName, "config.toml")
}

// DataPath returns the path to the data directory.
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func DataPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, AppName)
}

// RuntimePath returns the directory for state that must not survive a
// reboot. Uses XDG_RUNTIME_DIR if set, otherwise a per-user temp dir.
func RuntimePath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", AppName, os.Getuid()))
	}
	return filepath.Join(runtimeDir, AppName)
}

// HistoryPath returns the path to the run history JSONL file.
func HistoryPath() string {
	return filepath.Join(DataPath(), "history.jsonl")
}

// SessionDir returns the directory holding one session record per
// managed display.
func SessionDir() string {
	return filepath.Join(RuntimePath(), "sessions")
}

// LoadConfig loads configuration from the specified path.
// If path is empty, uses the default config path.
// Returns default config if file doesn't exist.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	// Start with defaults
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to the specified path.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := display.New(c.Display.Number).Validate(); err != nil {
		return err
	}
	if _, err := display.ParseGeometry(c.Display.Geometry); err != nil {
		return err
	}
	if c.Display.Server == "" {
		return errors.New("display.server must not be empty")
	}
	if _, err := display.ParsePolicy(c.Display.Policy); err != nil {
		return err
	}
	if c.Display.Scan < 1 || c.Display.Scan > 1000 {
		return fmt.Errorf("display.scan must be between 1 and 1000, got %d", c.Display.Scan)
	}

	if _, err := ParseStrategy(c.Readiness.Strategy); err != nil {
		return err
	}
	if c.Readiness.Timeout < 0 || c.Readiness.Delay < 0 {
		return errors.New("readiness timeout and delay must not be negative")
	}
	if c.Readiness.Interval <= 0 {
		return fmt.Errorf("readiness.interval must be positive, got %s", c.Readiness.Interval.Duration())
	}

	if len(c.Frontend.Command) == 0 || c.Frontend.Command[0] == "" {
		return errors.New("frontend.command must not be empty")
	}

	if _, err := ParseMode(c.Launch.Mode); err != nil {
		return err
	}
	if c.Launch.StopTimeout < 0 {
		return errors.New("launch.stop_timeout must not be negative")
	}

	if c.Monitor.MaxLines < 1 {
		return fmt.Errorf("monitor.max_lines must be positive, got %d", c.Monitor.MaxLines)
	}
	if c.Monitor.Duration <= 0 {
		return fmt.Errorf("monitor.duration must be positive, got %s", c.Monitor.Duration.Duration())
	}
	if c.Daemon.HealthInterval <= 0 {
		return fmt.Errorf("daemon.health_interval must be positive, got %s", c.Daemon.HealthInterval.Duration())
	}

	if _, err := core.ParseDuration(c.History.Since); err != nil {
		return fmt.Errorf("history.since: %w", err)
	}
	if _, err := core.ParseDuration(c.History.OlderThan); err != nil {
		return fmt.Errorf("history.older_than: %w", err)
	}
	if c.History.Limit < 0 || c.History.Keep < 0 {
		return errors.New("history limit and keep must not be negative")
	}

	return nil
}

// DisplayPaths returns the socket and lock locations for the display.
func (c *Config) DisplayPaths() display.Paths {
	return display.Paths{
		SocketDir: c.Display.SocketDir,
		LockDir:   c.Display.LockDir,
	}
}

// FrontendArgv returns the full front-end command line, with the headless
// switches appended when headless mode is on.
func (c *Config) FrontendArgv() []string {
	argv := append([]string(nil), c.Frontend.Command...)
	if c.Frontend.Headless {
		argv = append(argv, c.Frontend.HeadlessArgs...)
	}
	return argv
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	path := DataPath()
	if path == "" {
		return errors.New("unable to determine data directory")
	}
	return os.MkdirAll(path, 0755)
}
