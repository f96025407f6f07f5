package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tinkerbell/hook/internal/version"
)

// DefaultCmdlinePath is where the kernel command line is read from.
const DefaultCmdlinePath = "/proc/cmdline"

var ErrConfig = errors.New("configuration error")

type Config struct {
	SelfTestBaseURL string `yaml:"self_test_base_url"`
	MAC             string `yaml:"mac"`
	IP              string `yaml:"ip"`
	ID              string `yaml:"id"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`

	SED    SED    `yaml:"sed"`
	HTTP   HTTP   `yaml:"http"`
	Report Report `yaml:"report"`
}

type SED struct {
	Disabled     bool          `yaml:"disabled,omitempty"`
	SedutilPath  string        `yaml:"sedutil_path"`
	TypeTag      string        `yaml:"type_tag"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxWait bounds a single reset; zero means no limit
	MaxWait   time.Duration `yaml:"max_wait,omitempty"`
	SinkDir   string        `yaml:"sink_dir,omitempty"`
	HistoryDB string        `yaml:"history_db,omitempty"`
}

type HTTP struct {
	Retries int           `yaml:"retries"`
	Timeout time.Duration `yaml:"timeout"`
}

type Report struct {
	Tries         int           `yaml:"tries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	SleepAfter    time.Duration `yaml:"sleep_after"`
}

// defaultConfig provides baseline settings matching the boot environment
var defaultConfig = Config{
	LogLevel: "info",
	SED: SED{
		SedutilPath:  "sedutil-cli",
		TypeTag:      "nvme",
		PollInterval: 100 * time.Millisecond,
	},
	HTTP: HTTP{
		Retries: 3,
		Timeout: 10 * time.Second,
	},
	Report: Report{
		Tries:         10,
		RetryInterval: time.Minute,
		SleepAfter:    time.Hour,
	},
}

// Default returns a copy of the built-in defaults.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Options selects the sources Load reads.
type Options struct {
	// File is the YAML config; when empty the default locations are tried.
	File string
	// CmdlinePath defaults to DefaultCmdlinePath. A missing file is ignored.
	CmdlinePath string
	// LogLevel overrides every other source when set.
	LogLevel string
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file, the kernel command line and the environment.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	path := opts.File
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cmdlinePath := opts.CmdlinePath
	if cmdlinePath == "" {
		cmdlinePath = DefaultCmdlinePath
	}
	if data, err := os.ReadFile(cmdlinePath); err == nil {
		ApplyCmdline(cfg, string(data))
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(ErrConfig, "read kernel cmdline: "+err.Error())
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	cfg.applyDefaults()

	return cfg, nil
}

func findConfigFile() string {
	candidates := []string{
		"/etc/hwinfo/config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/hwinfo/config.yaml"),
		"config.yaml",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(ErrConfig, "parse "+path+": "+err.Error())
	}
	return nil
}

// ApplyCmdline applies kernel command line arguments. Keys are matched
// case-insensitively; mac also accepts instance_id, hw_addr and worker_id,
// and id also accepts plan.
func ApplyCmdline(cfg *Config, cmdline string) {
	for _, arg := range strings.Fields(cmdline) {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "self_test_base_url":
			cfg.SelfTestBaseURL = value
		case "mac", "instance_id", "hw_addr", "worker_id":
			cfg.MAC = value
		case "ip":
			cfg.IP = value
		case "id", "plan":
			cfg.ID = value
		}
	}
}

type envBinding struct {
	key   string
	env   string
	apply func(v *viper.Viper, key string, cfg *Config)
}

// envBindings lists the environment variables read. The identity variables
// keep their historic unprefixed names; the rest use the HWINFO_ prefix.
var envBindings = []envBinding{
	{"self_test_base_url", "SELF_TEST_BASE_URL", func(v *viper.Viper, k string, c *Config) { c.SelfTestBaseURL = v.GetString(k) }},
	{"mac", "MAC", func(v *viper.Viper, k string, c *Config) { c.MAC = v.GetString(k) }},
	{"ip", "IP", func(v *viper.Viper, k string, c *Config) { c.IP = v.GetString(k) }},
	{"id", "ID", func(v *viper.Viper, k string, c *Config) { c.ID = v.GetString(k) }},
	{"log_level", "", func(v *viper.Viper, k string, c *Config) { c.LogLevel = v.GetString(k) }},
	{"log_file", "", func(v *viper.Viper, k string, c *Config) { c.LogFile = v.GetString(k) }},
	{"sed.disabled", "", func(v *viper.Viper, k string, c *Config) { c.SED.Disabled = v.GetBool(k) }},
	{"sed.sedutil_path", "", func(v *viper.Viper, k string, c *Config) { c.SED.SedutilPath = v.GetString(k) }},
	{"sed.type_tag", "", func(v *viper.Viper, k string, c *Config) { c.SED.TypeTag = v.GetString(k) }},
	{"sed.poll_interval", "", func(v *viper.Viper, k string, c *Config) { c.SED.PollInterval = v.GetDuration(k) }},
	{"sed.max_wait", "", func(v *viper.Viper, k string, c *Config) { c.SED.MaxWait = v.GetDuration(k) }},
	{"sed.sink_dir", "", func(v *viper.Viper, k string, c *Config) { c.SED.SinkDir = v.GetString(k) }},
	{"sed.history_db", "", func(v *viper.Viper, k string, c *Config) { c.SED.HistoryDB = v.GetString(k) }},
	{"http.retries", "", func(v *viper.Viper, k string, c *Config) { c.HTTP.Retries = v.GetInt(k) }},
	{"http.timeout", "", func(v *viper.Viper, k string, c *Config) { c.HTTP.Timeout = v.GetDuration(k) }},
	{"report.tries", "", func(v *viper.Viper, k string, c *Config) { c.Report.Tries = v.GetInt(k) }},
	{"report.retry_interval", "", func(v *viper.Viper, k string, c *Config) { c.Report.RetryInterval = v.GetDuration(k) }},
	{"report.sleep_after", "", func(v *viper.Viper, k string, c *Config) { c.Report.SleepAfter = v.GetDuration(k) }},
}

func applyEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(version.AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, b := range envBindings {
		var err error
		if b.env != "" {
			err = v.BindEnv(b.key, b.env)
		} else {
			err = v.BindEnv(b.key)
		}
		if err != nil {
			return errors.Wrap(ErrConfig, "env var bind error: "+err.Error())
		}
	}

	for _, b := range envBindings {
		if v.IsSet(b.key) {
			b.apply(v, b.key, cfg)
		}
	}

	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultConfig.LogLevel
	}
	if cfg.SED.SedutilPath == "" {
		cfg.SED.SedutilPath = defaultConfig.SED.SedutilPath
	}
	if cfg.SED.TypeTag == "" {
		cfg.SED.TypeTag = defaultConfig.SED.TypeTag
	}
	if cfg.SED.PollInterval <= 0 {
		cfg.SED.PollInterval = defaultConfig.SED.PollInterval
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP.Timeout = defaultConfig.HTTP.Timeout
	}
	if cfg.Report.Tries <= 0 {
		cfg.Report.Tries = defaultConfig.Report.Tries
	}
	if cfg.Report.RetryInterval <= 0 {
		cfg.Report.RetryInterval = defaultConfig.Report.RetryInterval
	}
}

// Verify checks the settings needed to check in with the self-test service.
// A missing IP is not fatal and is replaced with "no-ip"; the returned
// warnings say so.
func (cfg *Config) Verify() (warnings []string, err error) {
	if cfg.SelfTestBaseURL == "" {
		return nil, errors.Wrap(ErrConfig, "self_test_base_url is not set")
	}
	if cfg.MAC == "" {
		return nil, errors.Wrap(ErrConfig, "mac is not set")
	}
	if cfg.ID == "" {
		return nil, errors.Wrap(ErrConfig, "id is not set")
	}
	if cfg.IP == "" {
		cfg.IP = "no-ip"
		warnings = append(warnings, "didn't get IP from config - this field is not mandatory")
	}
	return warnings, nil
}

// AsLogFields returns the settings worth logging at startup.
func (cfg *Config) AsLogFields() map[string]any {
	return map[string]any{
		"self_test_base_url": cfg.SelfTestBaseURL,
		"mac":                cfg.MAC,
		"ip":                 cfg.IP,
		"id":                 cfg.ID,
		"log_level":          cfg.LogLevel,
		"sedutil_path":       cfg.SED.SedutilPath,
		"sed_disabled":       cfg.SED.Disabled,
		"sed_max_wait":       cfg.SED.MaxWait.String(),
	}
}
