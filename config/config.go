// Package config loads the daemon configuration with viper.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	ImplBitcoinCore = "bitcoincore"
	ImplBtcd        = "btcd"
)

type Config struct {
	Server        ServerConfig  `mapstructure:"server"`
	Log           LogConfig     `mapstructure:"log"`
	LevelDB       LevelDBConfig `mapstructure:"leveldb"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MinForkHeight uint64        `mapstructure:"min_fork_height"`
	// RPCTimeout bounds each single-item RPC call. Zero means no deadline.
	RPCTimeout time.Duration `mapstructure:"rpc_timeout"`
	RPCWorkers int64         `mapstructure:"rpc_workers"`
	Nodes      []NodeConfig  `mapstructure:"nodes"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type LevelDBConfig struct {
	// Path of the database directory. Empty keeps the tree in memory only.
	Path string `mapstructure:"path"`
}

// NodeConfig describes one node to poll.
type NodeConfig struct {
	ID             uint8  `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Description    string `mapstructure:"description"`
	Implementation string `mapstructure:"implementation"`
	RPCHost        string `mapstructure:"rpc_host"`
	RPCUser        string `mapstructure:"rpc_user"`
	RPCPassword    string `mapstructure:"rpc_password"`
	UseREST        bool   `mapstructure:"use_rest"`
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.app_log_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "data/headers")
	v.SetDefault("poll_interval", "10s")
	v.SetDefault("min_fork_height", 0)
	v.SetDefault("rpc_timeout", "0s")
	v.SetDefault("rpc_workers", 8)
}

// Load reads the YAML file at path. Scalar settings can be overridden with
// FORKWATCH_ prefixed environment variables, e.g. FORKWATCH_SERVER_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("forkwatch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the node list and the polling settings.
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		return errors.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.RPCTimeout < 0 {
		return errors.Errorf("rpc_timeout must not be negative, got %s", c.RPCTimeout)
	}
	if len(c.Nodes) == 0 {
		return errors.New("no nodes configured")
	}

	seen := make(map[uint8]string, len(c.Nodes))
	for i, n := range c.Nodes {
		if other, ok := seen[n.ID]; ok {
			return errors.Errorf("node %q reuses id %d of node %q", n.Name, n.ID, other)
		}
		seen[n.ID] = n.Name

		switch n.Implementation {
		case ImplBitcoinCore:
		case ImplBtcd:
			if n.UseREST {
				return errors.Errorf("node %q: btcd has no REST interface", n.Name)
			}
		default:
			return errors.Errorf("node %q: unknown implementation %q", n.Name, n.Implementation)
		}
		if n.RPCHost == "" {
			return errors.Errorf("node %d (%q): rpc_host is required", i, n.Name)
		}
	}
	return nil
}
