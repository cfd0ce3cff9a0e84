// Package config resolves where stepwise keeps its data: job
// definitions, the event log, and the run-history database.
//
// Resolution order: built-in defaults under ~/.stepwise, then an
// optional stepwise.yml (home first, then working directory), then
// environment variables.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir      string
	JobsDir      string
	EventLogPath string
	DBPath       string
}

// fileConfig is the shape of an optional stepwise.yml.
type fileConfig struct {
	DataDir  string `yaml:"data_dir"`
	JobsDir  string `yaml:"jobs_dir"`
	EventLog string `yaml:"event_log"`
	DB       string `yaml:"db"`
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := filepath.Join(homeDir, ".stepwise")

	fc, err := loadFileConfig(homeDir)
	if err != nil {
		return nil, err
	}
	if fc.DataDir != "" {
		dataDir = expand(fc.DataDir, homeDir)
	}
	dataDir = getEnv("STEPWISE_DATA_DIR", dataDir)

	c := &Config{
		DataDir:      dataDir,
		JobsDir:      filepath.Join(dataDir, "jobs"),
		EventLogPath: filepath.Join(dataDir, "events.jsonl"),
		DBPath:       filepath.Join(dataDir, "stepwise.db"),
	}

	if fc.JobsDir != "" {
		c.JobsDir = expand(fc.JobsDir, homeDir)
	}
	if fc.EventLog != "" {
		c.EventLogPath = expand(fc.EventLog, homeDir)
	}
	if fc.DB != "" {
		c.DBPath = expand(fc.DB, homeDir)
	}
	c.JobsDir = getEnv("STEPWISE_JOBS_DIR", c.JobsDir)
	c.EventLogPath = getEnv("STEPWISE_EVENT_LOG", c.EventLogPath)

	return c, nil
}

// loadFileConfig reads stepwise.yml from the home directory or, failing
// that, the working directory. No file at all is fine.
func loadFileConfig(homeDir string) (fileConfig, error) {
	var fc fileConfig

	candidates := []string{
		filepath.Join(homeDir, "stepwise.yml"),
		"stepwise.yml",
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fc, err
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fc, err
		}
		return fc, nil
	}

	return fc, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(c.JobsDir, 0755)
}

func expand(path, homeDir string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}
	return path
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
