// Package config provides configuration loading and management for alorg.
//
// This is the tool's own configuration (binaries, recipe locations, transport
// and logging settings). The per-project deployment descriptor (alorg.json)
// lives in the descriptor package and is never merged into this struct.
//
// Configuration is loaded using Viper, supporting YAML config files and environment
// variable overrides. The defaults reproduce the conventional project layout, so
// most projects never need a config file at all.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [DockerConfig] contains container CLI settings
//   - [SSHConfig] contains remote-shell transport settings
//
// Configuration priority (highest to lowest):
//  1. Environment variables (ALORG_ prefix)
//  2. Config file specified by ALORG_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/alorg/config.yaml
//     - macOS: ~/Library/Application Support/alorg/config.yaml
//     - Windows: %APPDATA%\alorg\config.yaml
//  4. ./.alorg.yaml in the working directory
//  5. [DefaultConfig] defaults
package config

import "time"

// Transport names accepted by [SSHConfig.Transport].
const (
	// TransportExec runs rollouts through the local ssh binary.
	TransportExec = "exec"

	// TransportNative runs rollouts through an in-process SSH client.
	TransportNative = "native"
)

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and used throughout
// the application. Use [DefaultConfig] to get sensible defaults.
type Config struct {
	// Docker contains container CLI and daemon settings.
	Docker DockerConfig `mapstructure:"docker"`

	// SSH contains rollout transport settings.
	SSH SSHConfig `mapstructure:"ssh"`

	// Recipes locates the build recipes and upgrade script relative to the
	// project (or staging) root.
	Recipes RecipesConfig `mapstructure:"recipes"`

	// Pipeline tunes the commands run inside the build image.
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Staging controls the isolated working copy.
	Staging StagingConfig `mapstructure:"staging"`

	// Log configures diagnostic logging.
	Log LogConfig `mapstructure:"log"`
}

// DockerConfig contains container CLI configuration.
type DockerConfig struct {
	// Binary is the container CLI used for build, run and push.
	// Default: "docker". Override with ALORG_DOCKER_PATH.
	Binary string `mapstructure:"binary"`

	// Host is passed as DOCKER_HOST to every container step and used by the
	// daemon client. Empty means the environment default.
	Host string `mapstructure:"host"`
}

// SSHConfig contains remote-shell transport configuration.
//
// With the exec transport only Binary is used; the native transport reads
// the key, known_hosts and timeout settings.
type SSHConfig struct {
	// Transport is "exec" (default) or "native".
	Transport string `mapstructure:"transport"`

	// Binary is the ssh client for the exec transport.
	// Default: "ssh". Override with ALORG_SSH_PATH.
	Binary string `mapstructure:"binary"`

	// User is the login used when a server address has no user@ part.
	// Empty falls back to $USER.
	User string `mapstructure:"user"`

	// Port is the default port for addresses without one.
	Port int `mapstructure:"port"`

	// KeyPath is a private key file for the native transport. When empty the
	// native transport relies on SSH_AUTH_SOCK.
	KeyPath string `mapstructure:"key_path"`

	// KnownHosts is the known_hosts file used to verify host keys.
	// Default: ~/.ssh/known_hosts.
	KnownHosts string `mapstructure:"known_hosts"`

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool `mapstructure:"insecure_ignore_host_key"`

	// ConnectTimeout bounds the TCP dial and handshake.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RecipesConfig locates build recipes relative to the run root.
type RecipesConfig struct {
	// Build is the recipe for the build/test image.
	Build string `mapstructure:"build"`

	// Release is the recipe for the servable release image.
	Release string `mapstructure:"release"`

	// UpgradeScript is fed to each server's remote shell during rollout.
	UpgradeScript string `mapstructure:"upgrade_script"`
}

// PipelineConfig tunes the pipeline stages.
type PipelineConfig struct {
	// TestCommand runs inside the build image with CI=true.
	// Default: ["yarn", "test"]
	TestCommand []string `mapstructure:"test_command"`

	// BuildCommand produces the production artifacts inside the build image.
	// Default: ["yarn", "build"]
	BuildCommand []string `mapstructure:"build_command"`

	// BuildOutput is the host directory, relative to the run root, mounted at
	// /app/build during packaging.
	BuildOutput string `mapstructure:"build_output"`

	// Isolate enables the staging workspace by default.
	Isolate bool `mapstructure:"isolate"`

	// MaxParallelRollouts bounds concurrent server rollouts. Zero means one
	// task per server with no bound.
	MaxParallelRollouts int `mapstructure:"max_parallel_rollouts"`
}

// StagingConfig controls the isolated working copy.
type StagingConfig struct {
	// Ignore lists path names that are never mirrored, matched against every
	// path component.
	Ignore []string `mapstructure:"ignore"`

	// TempDir is the parent for staging directories. Empty uses os.TempDir.
	TempDir string `mapstructure:"temp_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: "warn".
	Level string `mapstructure:"level"`

	// Format is "text" (default) or "json".
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a new [Config] with sensible defaults.
//
// The defaults match the layout seeded by `alorg bootstrap`: recipes under
// internals/docker, a yarn-based test and build, and artifacts in ./build.
func DefaultConfig() *Config {
	return &Config{
		Docker: DockerConfig{
			Binary: "docker",
		},
		SSH: SSHConfig{
			Transport:      TransportExec,
			Binary:         "ssh",
			Port:           22,
			ConnectTimeout: 10 * time.Second,
		},
		Recipes: RecipesConfig{
			Build:         "internals/docker/Dockerfile-js",
			Release:       "internals/docker/Dockerfile-nginx",
			UpgradeScript: "internals/docker/image-upgrade.sh",
		},
		Pipeline: PipelineConfig{
			TestCommand:  []string{"yarn", "test"},
			BuildCommand: []string{"yarn", "build"},
			BuildOutput:  "build",
		},
		Staging: StagingConfig{
			Ignore: []string{".git", "node_modules", "build", ".alorg"},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}
