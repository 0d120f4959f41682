// Package config binds the adapter's configuration surface (spec §6) to
// viper, mirroring the teacher's cmd/root.go initConfig: dash-named flags,
// underscore aliases so either spelling works from a config file, and
// viper.SetDefault for every optional knob. Unlike the teacher, which uses
// the package-level viper singleton, each Load call gets its own
// *viper.Viper instance (spec §9 "Global mutable singletons… inject them
// explicitly").
package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// PathMappingEntry is one (server, client) pair of the path_mappings table.
type PathMappingEntry struct {
	ServerURI  string `mapstructure:"server"`
	ClientPath string `mapstructure:"client"`
}

// ProxyConfig is the proxy{...} configuration block (spec §6).
type ProxyConfig struct {
	Enable                bool          `mapstructure:"enable"`
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Key                   string        `mapstructure:"key"`
	AllowMultipleSessions bool          `mapstructure:"allow_multiple_sessions"`
	Timeout               time.Duration `mapstructure:"timeout"`
}

// StreamConfig is the stream{...} configuration block.
type StreamConfig struct {
	// Stdout: 0 disable, 1 copy, 2 redirect (spec §6, mirrors dbgp.StdoutMode).
	Stdout int `mapstructure:"stdout"`
}

// Config is the bound configuration surface of spec §6, excluding the
// explicitly out-of-scope CLI-launch options (program, args, cwd,
// runtime_executable, runtime_args, env, env_file, external_console).
type Config struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`

	StopOnEntry bool `mapstructure:"stop_on_entry"`

	PathMappings []PathMappingEntry `mapstructure:"path_mappings"`
	// ServerSourceRoot/LocalSourceRoot are the legacy single-entry form,
	// folded into PathMappings by Resolve.
	ServerSourceRoot string `mapstructure:"server_source_root"`
	LocalSourceRoot  string `mapstructure:"local_source_root"`

	Ignore           []string `mapstructure:"ignore"`
	IgnoreExceptions []string `mapstructure:"ignore_exceptions"`
	SkipEntryPaths   []string `mapstructure:"skip_entry_paths"`
	SkipFiles        []string `mapstructure:"skip_files"`

	// XdebugSettings overrides feature negotiation defaults (spec §4.8 step 5).
	XdebugSettings map[string]string `mapstructure:"xdebug_settings"`
	MaxChildren    int               `mapstructure:"max_children"`

	Proxy ProxyConfig `mapstructure:"proxy"`

	MaxConnections   int    `mapstructure:"max_connections"`
	XdebugCloudToken string `mapstructure:"xdebug_cloud_token"`

	Stream StreamConfig `mapstructure:"stream"`

	Verbose bool `mapstructure:"verbose"`
}

// Resolve folds the legacy single-entry server_source_root/local_source_root
// pair into PathMappings by appending it whenever both are set (an entry
// already present is not detected, so it can appear twice), and applies
// defaults the zero value doesn't carry.
func (c *Config) Resolve() {
	if c.ServerSourceRoot != "" && c.LocalSourceRoot != "" {
		c.PathMappings = append(c.PathMappings, PathMappingEntry{
			ServerURI:  c.ServerSourceRoot,
			ClientPath: c.LocalSourceRoot,
		})
	}
	if c.MaxChildren <= 0 {
		c.MaxChildren = 100
	}
	if c.Port <= 0 {
		c.Port = 9003
	}
	if c.Hostname == "" {
		c.Hostname = "localhost"
	}
}

// BindFlags registers the scalar and list configuration fields as
// persistent flags on fs (path_mappings, xdebug_settings, the legacy
// server/local source roots and verbose get no flag here), following the teacher's dash-flag/underscore-alias split
// (cmd/root.go: BindPFlag + RegisterAlias per option).
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("hostname", "localhost", "DBGp listen hostname")
	fs.Int("port", 9003, "DBGp listen port")
	fs.Bool("stop-on-entry", false, "stop on the first line of the debuggee")
	fs.StringSlice("ignore", nil, "file globs whose exceptions are never reported")
	fs.StringSlice("ignore-exceptions", nil, "exception class-name globs to ignore")
	fs.StringSlice("skip-entry-paths", nil, "globs that, matched against the entry file, skip the session entirely")
	fs.StringSlice("skip-files", nil, "globs to step over rather than stop in")
	fs.Int("max-children", 100, "property page size for array/object children")
	fs.Int("max-connections", 0, "maximum concurrent DBGp connections (<=0 means unlimited)")
	fs.String("xdebug-cloud-token", "", "Xdebug Cloud relay token")
	fs.Bool("proxy-enable", false, "register with a DBGp proxy")
	fs.String("proxy-host", "localhost", "DBGp proxy hostname")
	fs.Int("proxy-port", 9001, "DBGp proxy port")
	fs.String("proxy-key", "", "DBGp proxy IDE key")
	fs.Bool("proxy-allow-multiple-sessions", false, "accept multiple simultaneous proxy sessions")
	fs.Duration("proxy-timeout", 3*time.Second, "proxy registration timeout")
	fs.Int("stream-stdout", 0, "0 disable, 1 copy, 2 redirect engine stdout")

	for _, name := range []string{
		"hostname", "port", "stop-on-entry", "ignore", "ignore-exceptions",
		"skip-entry-paths", "skip-files", "max-children", "max-connections",
		"xdebug-cloud-token", "proxy-enable", "proxy-host", "proxy-port",
		"proxy-key", "proxy-allow-multiple-sessions", "proxy-timeout",
		"stream-stdout",
	} {
		v.BindPFlag(name, fs.Lookup(name))
		v.RegisterAlias(underscored(name), name)
	}
}

func underscored(dashed string) string {
	out := make([]byte, len(dashed))
	for i := 0; i < len(dashed); i++ {
		if dashed[i] == '-' {
			out[i] = '_'
		} else {
			out[i] = dashed[i]
		}
	}
	return string(out)
}

// Load reads v's bound flags/config file/env into a Config and resolves
// its defaults.
func Load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	var c Config
	c.Hostname = v.GetString("hostname")
	c.Port = v.GetInt("port")
	c.StopOnEntry = v.GetBool("stop_on_entry")
	c.Ignore = v.GetStringSlice("ignore")
	c.IgnoreExceptions = v.GetStringSlice("ignore_exceptions")
	c.SkipEntryPaths = v.GetStringSlice("skip_entry_paths")
	c.SkipFiles = v.GetStringSlice("skip_files")
	c.MaxChildren = v.GetInt("max_children")
	c.MaxConnections = v.GetInt("max_connections")
	c.XdebugCloudToken = v.GetString("xdebug_cloud_token")
	c.Proxy = ProxyConfig{
		Enable:                v.GetBool("proxy_enable"),
		Host:                  v.GetString("proxy_host"),
		Port:                  v.GetInt("proxy_port"),
		Key:                   v.GetString("proxy_key"),
		AllowMultipleSessions: v.GetBool("proxy_allow_multiple_sessions"),
		Timeout:               v.GetDuration("proxy_timeout"),
	}
	c.Stream.Stdout = v.GetInt("stream_stdout")
	if err := v.UnmarshalKey("path_mappings", &c.PathMappings); err != nil {
		return nil, err
	}
	if err := v.UnmarshalKey("xdebug_settings", &c.XdebugSettings); err != nil {
		return nil, err
	}
	c.ServerSourceRoot = v.GetString("server_source_root")
	c.LocalSourceRoot = v.GetString("local_source_root")
	c.Verbose = v.GetBool("verbose")
	c.Resolve()
	return &c, nil
}
