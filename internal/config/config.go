package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	DriverS7     = "s7"
	DriverModbus = "modbus"

	defaultConfigFile = "/etc/plc-dashboard/config.yaml"
)

type PLC struct {
	Driver      string        `yaml:"driver"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	ModbusPort  int           `yaml:"modbus_port"`
}

type Datadog struct {
	Enabled   bool     `yaml:"enabled"`
	AgentAddr string   `yaml:"agent_addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type Config struct {
	ConfigFile string `yaml:"-"`

	Document string `yaml:"document"`
	Backend  string `yaml:"backend"`
	Listen   string `yaml:"listen"`

	LogLevelName string        `yaml:"log_level"`
	LogLevel     zerolog.Level `yaml:"-"`
	LogFile      string        `yaml:"log_file"`

	PLC     PLC     `yaml:"plc"`
	Datadog Datadog `yaml:"datadog"`
}

func Default() Config {
	return Config{
		ConfigFile:   defaultConfigFile,
		Document:     "data/dashboard_config.json",
		Backend:      BackendFile,
		Listen:       "0.0.0.0:8080",
		LogLevelName: "info",
		LogLevel:     zerolog.InfoLevel,
		PLC: PLC{
			Driver:      DriverS7,
			DialTimeout: 5 * time.Second,
			ModbusPort:  502,
		},
		Datadog: Datadog{
			AgentAddr: "127.0.0.1:8125",
			Namespace: "plc_dashboard.",
		},
	}
}

// Load parses the process arguments and panics on invalid configuration.
func Load() Config {
	cfg, err := Parse(os.Args[1:])
	if err != nil {
		panic("Invalid configuration: " + err.Error())
	}
	return cfg
}

// Parse applies defaults, then the YAML file, then any flag set explicitly on
// the command line. A missing config file is only an error when it was named
// with --config-file.
func Parse(args []string) (Config, error) {
	cfg := Default()

	set := pflag.NewFlagSet("plc-dashboard", pflag.ContinueOnError)
	var flags Config
	set.StringVar(&flags.ConfigFile, "config-file", cfg.ConfigFile, "Path to YAML process config")
	set.StringVar(&flags.Document, "document", cfg.Document, "Path of the dashboard document (file or sqlite database)")
	set.StringVar(&flags.Backend, "backend", cfg.Backend, "Document backend (file, sqlite)")
	set.StringVar(&flags.PLC.Driver, "driver", cfg.PLC.Driver, "PLC driver (s7, modbus)")
	set.StringVar(&flags.Listen, "listen", cfg.Listen, "HTTP listen address")
	set.StringVar(&flags.LogLevelName, "log-level", cfg.LogLevelName, "Log level (debug, info, warn, error)")
	set.StringVar(&flags.LogFile, "log-file", cfg.LogFile, "Append JSON logs to this file")
	if err := set.Parse(args); err != nil {
		return cfg, err
	}

	cfg.ConfigFile = flags.ConfigFile
	if err := readFile(&cfg, set.Changed("config-file")); err != nil {
		return cfg, err
	}

	if set.Changed("document") {
		cfg.Document = flags.Document
	}
	if set.Changed("backend") {
		cfg.Backend = flags.Backend
	}
	if set.Changed("driver") {
		cfg.PLC.Driver = flags.PLC.Driver
	}
	if set.Changed("listen") {
		cfg.Listen = flags.Listen
	}
	if set.Changed("log-level") {
		cfg.LogLevelName = flags.LogLevelName
	}
	if set.Changed("log-file") {
		cfg.LogFile = flags.LogFile
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readFile(cfg *Config, required bool) error {
	data, err := os.ReadFile(cfg.ConfigFile)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", cfg.ConfigFile, err)
	}
	return nil
}

func (cfg *Config) validate() error {
	var problems []string

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend != BackendFile && cfg.Backend != BackendSQLite {
		problems = append(problems, fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
	cfg.PLC.Driver = strings.ToLower(strings.TrimSpace(cfg.PLC.Driver))
	if cfg.PLC.Driver != DriverS7 && cfg.PLC.Driver != DriverModbus {
		problems = append(problems, fmt.Sprintf("unknown plc driver %q", cfg.PLC.Driver))
	}
	if cfg.Document == "" {
		problems = append(problems, "document path is empty")
	}
	if cfg.PLC.DialTimeout <= 0 {
		problems = append(problems, "plc.dial_timeout must be positive")
	}
	if cfg.PLC.ModbusPort <= 0 || cfg.PLC.ModbusPort > 65535 {
		problems = append(problems, fmt.Sprintf("plc.modbus_port %d out of range", cfg.PLC.ModbusPort))
	}
	if cfg.Datadog.Enabled && cfg.Datadog.AgentAddr == "" {
		problems = append(problems, "datadog.agent_addr is required when datadog is enabled")
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevelName))
	if err != nil || cfg.LogLevelName == "" {
		problems = append(problems, fmt.Sprintf("unknown log level %q", cfg.LogLevelName))
	} else {
		cfg.LogLevel = level
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
