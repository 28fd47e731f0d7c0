// Package config loads the agent configuration from defaults, an optional
// YAML file, MONAGENT_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. MONAGENT_SOCKET_DIR
const EnvPrefix = "MONAGENT"

// Config is the complete agent configuration
type Config struct {
	SocketDir          string        `mapstructure:"socket_dir"`
	ConfDir            string        `mapstructure:"conf_dir"`
	HeartbeatPeriod    time.Duration `mapstructure:"heartbeat_period"`
	RadosTimeout       time.Duration `mapstructure:"rados_timeout"`
	AdminSocketTimeout time.Duration `mapstructure:"admin_socket_timeout"`
	DescriptionsTTL    time.Duration `mapstructure:"descriptions_ttl"`
	ClientName         string        `mapstructure:"client_name"`
	CephBin            string        `mapstructure:"ceph_bin"`
	RbdBin             string        `mapstructure:"rbd_bin"`
	CrushtoolBin       string        `mapstructure:"crushtool_bin"`
	HTTPAddr           string        `mapstructure:"http_addr"`
	MaxConcurrentJobs  int64         `mapstructure:"max_concurrent_jobs"`
	FQDN               string        `mapstructure:"fqdn"`
	DataDir            string        `mapstructure:"data_dir"`
	JobHistory         int           `mapstructure:"job_history"`
	Log                LogConfig     `mapstructure:"log"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var defaults = map[string]any{
	"socket_dir":           "/var/run/ceph",
	"conf_dir":             "/etc/ceph",
	"heartbeat_period":     10 * time.Second,
	"rados_timeout":        20 * time.Second,
	"admin_socket_timeout": 5 * time.Second,
	"descriptions_ttl":     60 * time.Second,
	"client_name":          "client.admin",
	"ceph_bin":             "ceph",
	"rbd_bin":              "rbd",
	"crushtool_bin":        "crushtool",
	"http_addr":            "127.0.0.1:9284",
	"max_concurrent_jobs":  0,
	"fqdn":                 "",
	"data_dir":             "/var/lib/monagent",
	"job_history":          1000,
	"log.level":            "info",
	"log.json":             false,
}

// flagKeys maps command line flag names to configuration keys
var flagKeys = map[string]string{
	"socket-dir":           "socket_dir",
	"conf-dir":             "conf_dir",
	"heartbeat-period":     "heartbeat_period",
	"rados-timeout":        "rados_timeout",
	"admin-socket-timeout": "admin_socket_timeout",
	"descriptions-ttl":     "descriptions_ttl",
	"client-name":          "client_name",
	"ceph-bin":             "ceph_bin",
	"rbd-bin":              "rbd_bin",
	"crushtool-bin":        "crushtool_bin",
	"http-addr":            "http_addr",
	"max-concurrent-jobs":  "max_concurrent_jobs",
	"fqdn":                 "fqdn",
	"data-dir":             "data_dir",
	"job-history":          "job_history",
	"log-level":            "log.level",
	"log-json":             "log.json",
}

// Default returns the built-in configuration, ignoring the environment
func Default() *Config {
	cfg := &Config{}
	if err := newViper().Unmarshal(cfg); err != nil {
		// defaults always decode
		panic(err)
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// RegisterFlags adds a flag for every configuration key to fs
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("socket-dir", defaults["socket_dir"].(string), "Directory holding daemon admin sockets")
	fs.String("conf-dir", defaults["conf_dir"].(string), "Directory holding <cluster>.conf files")
	fs.Duration("heartbeat-period", defaults["heartbeat_period"].(time.Duration), "Interval between heartbeat rounds")
	fs.Duration("rados-timeout", defaults["rados_timeout"].(time.Duration), "Timeout for cluster connections and commands")
	fs.Duration("admin-socket-timeout", defaults["admin_socket_timeout"].(time.Duration), "Timeout for admin socket requests")
	fs.Duration("descriptions-ttl", defaults["descriptions_ttl"].(time.Duration), "How long admin socket command descriptions are cached")
	fs.String("client-name", defaults["client_name"].(string), "Cluster client identity")
	fs.String("ceph-bin", defaults["ceph_bin"].(string), "Path to the ceph CLI")
	fs.String("rbd-bin", defaults["rbd_bin"].(string), "Path to the rbd CLI")
	fs.String("crushtool-bin", defaults["crushtool_bin"].(string), "Path to crushtool")
	fs.String("http-addr", defaults["http_addr"].(string), "Status server address (empty to disable)")
	fs.Int64("max-concurrent-jobs", 0, "Maximum number of running jobs (0 for no limit)")
	fs.String("fqdn", "", "Agent identity (default: resolved from the hostname)")
	fs.String("data-dir", defaults["data_dir"].(string), "Directory holding the job history database")
	fs.Int("job-history", defaults["job_history"].(int), "Number of completed jobs to keep (0 to disable the history)")
	fs.String("log-level", defaults["log.level"].(string), "Log level (debug, info, warn, error)")
	fs.Bool("log-json", false, "Output logs in JSON format")
}

// Load builds the configuration. path names an optional YAML file; flags may
// be nil. Only flags that were set on the command line override other sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errors.Wrapf(err, "bind flag --%s", name)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return cfg, nil
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var result *multierror.Error

	positive := map[string]time.Duration{
		"heartbeat_period":     c.HeartbeatPeriod,
		"rados_timeout":        c.RadosTimeout,
		"admin_socket_timeout": c.AdminSocketTimeout,
	}
	for _, key := range []string{"heartbeat_period", "rados_timeout", "admin_socket_timeout"} {
		if positive[key] <= 0 {
			result = multierror.Append(result, fmt.Errorf("%s must be positive, got %s", key, positive[key]))
		}
	}
	if c.DescriptionsTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("descriptions_ttl must not be negative, got %s", c.DescriptionsTTL))
	}
	if c.MaxConcurrentJobs < 0 {
		result = multierror.Append(result, fmt.Errorf("max_concurrent_jobs must not be negative, got %d", c.MaxConcurrentJobs))
	}
	if c.JobHistory < 0 {
		result = multierror.Append(result, fmt.Errorf("job_history must not be negative, got %d", c.JobHistory))
	}
	if c.JobHistory > 0 && c.DataDir == "" {
		result = multierror.Append(result, errors.New("data_dir must be set when job_history is enabled"))
	}
	if c.SocketDir == "" {
		result = multierror.Append(result, errors.New("socket_dir must be set"))
	}
	if c.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "http_addr %q", c.HTTPAddr))
		}
	}

	return result.ErrorOrNil()
}

// ResolveFQDN returns the configured identity, or the fully qualified name
// of this host when none is set. It falls back to the bare hostname when the
// name does not resolve.
func (c *Config) ResolveFQDN() (string, error) {
	if c.FQDN != "" {
		return c.FQDN, nil
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", errors.Wrap(err, "read hostname")
	}
	cname, err := net.LookupCNAME(hostname)
	if err != nil || cname == "" {
		return hostname, nil
	}
	return strings.TrimSuffix(cname, "."), nil
}
