// Package config loads gamex settings from defaults, an optional config
// file, a .env file, GAMEX_* environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"xdao.co/gamex/kubo"
	"xdao.co/gamex/probe"
)

// EnvPrefix prefixes every environment variable, e.g. GAMEX_API_URL.
const EnvPrefix = "GAMEX"

type Config struct {
	// APIURL is the daemon's RPC base URL.
	APIURL string `mapstructure:"api_url"`
	// GatewayURL is the HTTP gateway base used to build shareable links.
	GatewayURL string `mapstructure:"gateway_url"`
	// IPFSBin is the ipfs executable used for large uploads and the managed daemon.
	IPFSBin string `mapstructure:"ipfs_bin"`
	// IPFSPath is exported as IPFS_PATH to the ipfs executable when set.
	IPFSPath string `mapstructure:"ipfs_path"`

	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// DownloadTimeout bounds a whole transfer. Zero disables the bound.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// ChunkSize is the download buffer size; zero uses the engine default.
	ChunkSize int `mapstructure:"chunk_size"`

	InstallDir string `mapstructure:"install_dir"`

	// LogLevel is any logrus level name.
	LogLevel string `mapstructure:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `mapstructure:"log_format"`

	// GRPCListen is the gamex-distd listen address.
	GRPCListen string `mapstructure:"grpc_listen"`
	// AllowOrigins are written to the managed daemon's API CORS config.
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"api-url":          "api_url",
	"gateway-url":      "gateway_url",
	"ipfs-bin":         "ipfs_bin",
	"ipfs-path":        "ipfs_path",
	"probe-timeout":    "probe_timeout",
	"download-timeout": "download_timeout",
	"chunk-size":       "chunk_size",
	"install-dir":      "install_dir",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"grpc-listen":      "grpc_listen",
	"allow-origin":     "allow_origins",
}

func defaultInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "games"
	}
	return filepath.Join(home, ".gamex", "games")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", kubo.DefaultAPIURL)
	v.SetDefault("gateway_url", kubo.DefaultGatewayURL)
	v.SetDefault("ipfs_bin", "ipfs")
	v.SetDefault("ipfs_path", "")
	v.SetDefault("probe_timeout", probe.DefaultBudget)
	v.SetDefault("download_timeout", time.Duration(0))
	v.SetDefault("chunk_size", 0)
	v.SetDefault("install_dir", defaultInstallDir())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("grpc_listen", "127.0.0.1:7402")
	v.SetDefault("allow_origins", []string{"http://localhost:1420", "tauri://localhost"})
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	cfg, _ := Load(LoadOptions{SkipEnv: true})
	return cfg
}

// RegisterFlags adds the flags Load understands to fs. Only flags that are
// explicitly set override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (yaml, json or toml)")
	fs.String("env-file", "", "dotenv file loaded before reading the environment (default .env if present)")
	fs.String("api-url", kubo.DefaultAPIURL, "daemon RPC API base URL")
	fs.String("gateway-url", kubo.DefaultGatewayURL, "HTTP gateway base URL")
	fs.String("ipfs-bin", "ipfs", "ipfs executable")
	fs.String("ipfs-path", "", "IPFS_PATH passed to the ipfs executable")
	fs.Duration("probe-timeout", probe.DefaultBudget, "availability probe budget")
	fs.Duration("download-timeout", 0, "whole-transfer download budget (0 = unbounded)")
	fs.Int("chunk-size", 0, "download chunk size in bytes (0 = default)")
	fs.String("install-dir", defaultInstallDir(), "directory bundles are installed into")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("grpc-listen", "127.0.0.1:7402", "gRPC listen address")
	fs.StringSlice("allow-origin", nil, "API CORS origin for the managed daemon (repeatable)")
}

type LoadOptions struct {
	// ConfigFile is read when set; a missing file is an error. When empty,
	// gamex.{yaml,json,toml} is looked up in the working directory.
	ConfigFile string
	// EnvFile is loaded into the process environment without overriding
	// existing variables. When empty, .env is loaded if present.
	EnvFile string
	// Flags registered with RegisterFlags. May be nil.
	Flags *pflag.FlagSet
	// SkipEnv ignores the environment and dotenv files.
	SkipEnv bool
}

// Load resolves the configuration. It does not validate it.
func Load(opts LoadOptions) (Config, error) {
	if opts.Flags != nil {
		if f := opts.Flags.Lookup("config"); f != nil && opts.ConfigFile == "" {
			opts.ConfigFile = f.Value.String()
		}
		if f := opts.Flags.Lookup("env-file"); f != nil && opts.EnvFile == "" {
			opts.EnvFile = f.Value.String()
		}
	}

	v := viper.New()
	setDefaults(v)

	if !opts.SkipEnv {
		if err := loadEnvFile(opts.EnvFile); err != nil {
			return Config{}, err
		}
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", opts.ConfigFile, err)
		}
	} else if !opts.SkipEnv {
		v.SetConfigName("gamex")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			f := opts.Flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("config: bind %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	issues := []string{}
	for _, u := range []struct{ key, val string }{
		{"api_url", c.APIURL},
		{"gateway_url", c.GatewayURL},
	} {
		p, err := url.Parse(u.val)
		if u.val == "" || err != nil || (p.Scheme != "http" && p.Scheme != "https") || p.Host == "" {
			issues = append(issues, u.key+` must be an http(s) URL`)
		}
	}
	if c.IPFSBin == "" {
		issues = append(issues, `ipfs_bin must be provided`)
	}
	if c.ProbeTimeout <= 0 {
		issues = append(issues, `probe_timeout must be positive`)
	}
	if c.DownloadTimeout < 0 {
		issues = append(issues, `download_timeout must not be negative`)
	}
	if c.ChunkSize < 0 {
		issues = append(issues, `chunk_size must not be negative`)
	}
	if c.InstallDir == "" {
		issues = append(issues, `install_dir must be provided`)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		issues = append(issues, `log_level must be a valid level ("debug", "info", "warning", "error")`)
	}
	switch c.LogFormat {
	case "text", "json": // allowed
	default:
		issues = append(issues, `log_format must be one of "text", "json"`)
	}

	if len(issues) > 0 {
		return errors.New("config validation failed: \n  " + strings.Join(issues, "\n  "))
	}
	return nil
}

// KuboOptions returns client options for the configured endpoints.
func (c Config) KuboOptions(log logrus.FieldLogger) kubo.Options {
	return kubo.Options{APIURL: c.APIURL, GatewayURL: c.GatewayURL, Logger: log}
}

// CLIOptions returns options for the ipfs executable.
func (c Config) CLIOptions() kubo.CLIOptions {
	return kubo.CLIOptions{Bin: c.IPFSBin, RepoPath: c.IPFSPath}
}
