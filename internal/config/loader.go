package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment override.
const EnvPrefix = "ALORG"

// configFileName is the file looked up in the user config directory.
const configFileName = "config.yaml"

// localConfigFile is the per-project fallback looked up in the working directory.
const localConfigFile = ".alorg.yaml"

// Loader handles Viper-based configuration loading.
//
// Create with [NewLoader]. Each Loader owns its own viper instance so tests
// and concurrent callers never share global viper state.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a [Loader] with defaults and environment bindings applied.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases for the two binaries people override most.
	_ = v.BindEnv("docker.binary", EnvPrefix+"_DOCKER_PATH")
	_ = v.BindEnv("ssh.binary", EnvPrefix+"_SSH_PATH")

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("docker.binary", d.Docker.Binary)
	v.SetDefault("docker.host", d.Docker.Host)

	v.SetDefault("ssh.transport", d.SSH.Transport)
	v.SetDefault("ssh.binary", d.SSH.Binary)
	v.SetDefault("ssh.user", d.SSH.User)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.key_path", d.SSH.KeyPath)
	v.SetDefault("ssh.known_hosts", d.SSH.KnownHosts)
	v.SetDefault("ssh.insecure_ignore_host_key", d.SSH.InsecureIgnoreHostKey)
	v.SetDefault("ssh.connect_timeout", d.SSH.ConnectTimeout)

	v.SetDefault("recipes.build", d.Recipes.Build)
	v.SetDefault("recipes.release", d.Recipes.Release)
	v.SetDefault("recipes.upgrade_script", d.Recipes.UpgradeScript)

	v.SetDefault("pipeline.test_command", d.Pipeline.TestCommand)
	v.SetDefault("pipeline.build_command", d.Pipeline.BuildCommand)
	v.SetDefault("pipeline.build_output", d.Pipeline.BuildOutput)
	v.SetDefault("pipeline.isolate", d.Pipeline.Isolate)
	v.SetDefault("pipeline.max_parallel_rollouts", d.Pipeline.MaxParallelRollouts)

	v.SetDefault("staging.ignore", d.Staging.Ignore)
	v.SetDefault("staging.temp_dir", d.Staging.TempDir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load resolves the config file by priority and unmarshals it over the defaults.
//
// A missing config file is not an error; defaults and environment overrides
// still apply. A config file that exists but cannot be parsed is an error.
func (l *Loader) Load() (*Config, error) {
	path := l.resolveConfigFile()
	if path != "" {
		return l.LoadFromFile(path)
	}
	return l.unmarshal()
}

// LoadFromFile loads configuration from an explicit file path.
//
// The format is inferred from the extension (yaml, json, toml). Environment
// overrides still take precedence over values in the file.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// resolveConfigFile returns the highest-priority existing config file, or "".
func (l *Loader) resolveConfigFile() string {
	if envPath := os.Getenv(EnvPrefix + "_CONFIG_PATH"); envPath != "" {
		return envPath
	}

	if userPath, err := DefaultConfigPath(); err == nil {
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}

	if _, err := os.Stat(localConfigFile); err == nil {
		return localConfigFile
	}

	return ""
}

// ConfigDir returns the platform-standard alorg config directory.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config dir: %w", err)
	}
	return filepath.Join(base, "alorg"), nil
}

// DefaultConfigPath returns the config file path inside [ConfigDir].
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}
