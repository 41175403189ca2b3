package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Gemini  GeminiConfig  `toml:"gemini"`
	Jira    JiraConfig    `toml:"jira"`
	Files   FilesConfig   `toml:"files"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type EngineConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	Port        int    `toml:"port"`
	// AuthToken is the static API key required on write-capable endpoints.
	// Empty disables auth for local development.
	AuthToken                string `toml:"auth_token"`
	RejectSuspectedInjection bool   `toml:"reject_suspected_injection"`
}

type GeminiConfig struct {
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	BaseURL        string  `toml:"base_url"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	MaxAttempts    int     `toml:"max_attempts"`
	Temperature    float64 `toml:"temperature"`
}

type JiraConfig struct {
	BaseURL        string `toml:"base_url"`
	Email          string `toml:"email"`
	APIToken       string `toml:"api_token"`
	ProjectKey     string `toml:"project_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxAttempts    int    `toml:"max_attempts"`
}

type FilesConfig struct {
	// OutputRoot is the only directory generated test skeletons may be written under.
	OutputRoot string `toml:"output_root"`
}

type StorageConfig struct {
	DatabasePath  string `toml:"database_path"`
	RetentionDays int    `toml:"retention_days"`
}

type LoggingConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Output     string `toml:"output"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
}

func DefaultConfig() *Config {
	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	execName := filepath.Base(execPath)
	execName = execName[:len(execName)-len(filepath.Ext(execName))]

	defaultDBPath := filepath.Join(execDir, "data", execName+".db")

	return &Config{
		Engine: EngineConfig{
			Name:        execName,
			Environment: "development",
			Port:        8080,
		},
		Gemini: GeminiConfig{
			Model:          "gemini-2.5-flash",
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			TimeoutSeconds: 60,
			MaxAttempts:    3,
			Temperature:    0.2,
		},
		Jira: JiraConfig{
			TimeoutSeconds: 30,
			MaxAttempts:    3,
		},
		Files: FilesConfig{
			OutputRoot: filepath.Join(execDir, "playwright-tests"),
		},
		Storage: StorageConfig{
			DatabasePath:  defaultDBPath,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "both",
			MaxSize:    100,
			MaxBackups: 3,
		},
	}
}

func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile == "" {
		// Auto-detect config file
		execPath, _ := os.Executable()
		execDir := filepath.Dir(execPath)
		execName := filepath.Base(execPath)
		execName = execName[:len(execName)-len(filepath.Ext(execName))]

		possiblePaths := []string{
			filepath.Join(execDir, execName+".toml"),
			filepath.Join(execDir, "config.toml"),
			"config.toml",
		}

		for _, path := range possiblePaths {
			if _, err := os.Stat(path); err == nil {
				configFile = path
				break
			}
		}

		if configFile == "" {
			applyEnvOverrides(config)
			if err := config.Validate(); err != nil {
				return nil, fmt.Errorf("invalid configuration: %w", err)
			}
			return config, nil
		}
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(config *Config) {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.Gemini.Model = model
	}
	if authToken := os.Getenv("API_AUTH_TOKEN"); authToken != "" {
		config.Engine.AuthToken = authToken
	}

	if baseURL := os.Getenv("JIRA_BASE_URL"); baseURL != "" {
		config.Jira.BaseURL = baseURL
	}
	if email := os.Getenv("JIRA_EMAIL"); email != "" {
		config.Jira.Email = email
	}
	if token := os.Getenv("JIRA_API_TOKEN"); token != "" {
		config.Jira.APIToken = token
	}
	if projectKey := os.Getenv("JIRA_PROJECT_KEY"); projectKey != "" {
		config.Jira.ProjectKey = projectKey
	}

	if outputRoot := os.Getenv("TEST_OUTPUT_ROOT"); outputRoot != "" {
		config.Files.OutputRoot = outputRoot
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		config.Storage.DatabasePath = dbPath
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logOutput := os.Getenv("LOG_OUTPUT"); logOutput != "" {
		config.Logging.Output = logOutput
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		if portNum, err := strconv.Atoi(port); err == nil {
			config.Engine.Port = portNum
		}
	}
}

func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage database_path is required")
	}

	if c.Files.OutputRoot == "" {
		return fmt.Errorf("files output_root is required")
	}

	if c.Engine.Port <= 0 {
		c.Engine.Port = 8080
	}

	if c.Gemini.MaxAttempts <= 0 {
		c.Gemini.MaxAttempts = 3
	}
	if c.Jira.MaxAttempts <= 0 {
		c.Jira.MaxAttempts = 3
	}

	if c.Jira.BaseURL != "" {
		c.Jira.BaseURL = strings.TrimRight(c.Jira.BaseURL, "/")
	}

	validLogLevels := []string{"debug", "info", "warn", "error", "fatal", "panic"}
	validLevel := false
	for _, level := range validLogLevels {
		if c.Logging.Level == level {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validOutputs := []string{"console", "file", "both"}
	validOutput := false
	for _, output := range validOutputs {
		if c.Logging.Output == output {
			validOutput = true
			break
		}
	}
	if !validOutput {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}

	return nil
}

// JiraConfigured reports whether the tracker write-back credentials are present.
func (c *Config) JiraConfigured() bool {
	return c.Jira.BaseURL != "" && c.Jira.Email != "" && c.Jira.APIToken != ""
}

func (c *Config) IsProduction() bool {
	return c.Engine.Environment == "production"
}
