package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mesh-intelligence/tablecache/internal/paths"
	"github.com/mesh-intelligence/tablecache/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	envPrefix      = "TABLECACHE"

	cfgKeyBaseURL       = "base_url"
	cfgKeyToken         = "token"
	cfgKeyTables        = "tables"
	cfgKeyRetryAttempts = "retry_attempts"
	cfgKeyRetryDelay    = "retry_delay"
	cfgKeyDataDir       = "data_dir"
	cfgKeyAddr          = "addr"

	defaultBaseURL = "http://127.0.0.1:8080"
	defaultAddr    = "127.0.0.1:8080"
)

// defaultConfigYAML is written to config.yaml on first run.
const defaultConfigYAML = `# tablecache configuration

# Server the client commands talk to.
base_url: http://127.0.0.1:8080

# Bearer token sent with every request (and required by "serve" when set).
token: ""

# Logical table names and their server table IDs. "serve --table" prints
# the IDs of the tables it creates.
tables: {}

# Record queries are retried with exponential backoff.
retry_attempts: 3
retry_delay: 1s

# Listen address and data directory of "serve".
addr: 127.0.0.1:8080
# data_dir:
`

// loadConfig reads config.yaml from configDir, creating the directory and a
// default file on first run. TABLECACHE_* environment variables override
// file values. A missing config.yaml is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBaseURL, defaultBaseURL)
	v.SetDefault(cfgKeyRetryAttempts, types.DefaultRetryAttempts)
	v.SetDefault(cfgKeyRetryDelay, types.DefaultRetryDelay)
	v.SetDefault(cfgKeyAddr, defaultAddr)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

func ensureDefaultConfigFile(configDir string) error {
	path := paths.ConfigFile(configDir)

	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// clientConfig builds the client configuration from v.
func clientConfig(v *viper.Viper) (types.Config, error) {
	var c types.Config
	if err := v.Unmarshal(&c); err != nil {
		return types.Config{}, fmt.Errorf("decode config: %w", err)
	}
	if c.Tables == nil {
		c.Tables = map[string]string{}
	}
	return c, nil
}
