// Package config holds the mizzend configuration: defaults, the JSON
// configuration file, and the command-line flags, merged with the rule
// that a setting may come from the file or the flags but not both.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const (
	// DefaultInit is the binary booted as pid 1.
	DefaultInit = "/bin/init"
	// DefaultLogLevel is the logging level when none is configured.
	DefaultLogLevel = "info"
)

// Config is the runtime configuration of a mizzend instance. Field
// names in the JSON file are the flag names.
type Config struct {
	Init        string   `json:"init,omitempty"`
	InitArgs    []string `json:"init-args,omitempty"`
	MemoryPages int      `json:"memory-pages,omitempty"`
	MaxProcs    int      `json:"max-procs,omitempty"`
	DiskImage   string   `json:"disk-image,omitempty"`
	Debug       bool     `json:"debug,omitempty"`
	LogLevel    string   `json:"log-level,omitempty"`
	LogFormat   string   `json:"log-format,omitempty"`
}

// New returns a Config with the defaults filled in.
func New() *Config {
	return &Config{
		Init:     DefaultInit,
		LogLevel: DefaultLogLevel,
	}
}

// InstallFlags registers every configurable setting on flags, bound to
// conf.
func InstallFlags(conf *Config, flags *pflag.FlagSet) {
	flags.StringVar(&conf.Init, "init", conf.Init, "Binary booted as pid 1")
	flags.StringSliceVar(&conf.InitArgs, "init-args", conf.InitArgs, "Arguments handed to init")
	flags.IntVar(&conf.MemoryPages, "memory-pages", conf.MemoryPages, "User memory budget in pages (0 is unlimited)")
	flags.IntVar(&conf.MaxProcs, "max-procs", conf.MaxProcs, "Process table size (0 is unbounded)")
	flags.StringVar(&conf.DiskImage, "disk-image", conf.DiskImage, "Boot from this disk image instead of the built-in root")
	flags.BoolVarP(&conf.Debug, "debug", "D", conf.Debug, "Enable debug mode")
	flags.StringVarP(&conf.LogLevel, "log-level", "l", conf.LogLevel, `Set the logging level ("debug"|"info"|"warn"|"error"|"fatal")`)
	flags.StringVar(&conf.LogFormat, "log-format", conf.LogFormat, `Set the logging format ("text"|"json")`)
}

// Merge layers the configuration file at configFile over conf. A
// setting present in the file and changed on the flags at the same
// time is a conflict, not a silent override. The returned Config is a
// fresh value; conf is left alone.
func Merge(conf *Config, flags *pflag.FlagSet, configFile string) (*Config, error) {
	fileConf, raw, err := fromFile(configFile)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := findConfigurationConflicts(raw, flags); err != nil {
			return nil, err
		}
	}
	if err := mergo.Merge(fileConf, conf); err != nil {
		return nil, err
	}
	if err := fileConf.Validate(); err != nil {
		return nil, err
	}
	return fileConf, nil
}

// fromFile reads and decodes the JSON configuration file, tolerating a
// UTF-8 byte order mark. The raw key set comes back too, for conflict
// detection.
func fromFile(configFile string) (*Config, map[string]interface{}, error) {
	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, nil, err
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))

	var conf Config
	if err := json.Unmarshal(b, &conf); err != nil {
		return nil, nil, fmt.Errorf("%s: %v: %w", configFile, err, cerrdefs.ErrInvalidArgument)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, nil, fmt.Errorf("%s: %v: %w", configFile, err, cerrdefs.ErrInvalidArgument)
	}
	return &conf, raw, nil
}

// findConfigurationConflicts rejects settings given both in the file
// and on the command line.
func findConfigurationConflicts(fileSettings map[string]interface{}, flags *pflag.FlagSet) error {
	var conflicts []string
	flags.Visit(func(f *pflag.Flag) {
		if v, ok := fileSettings[f.Name]; ok {
			conflicts = append(conflicts, fmt.Sprintf("%s: (from flag: %v, from file: %v)", f.Name, f.Value.String(), v))
		}
	})
	if len(conflicts) > 0 {
		return fmt.Errorf("the following directives are specified both as a flag and in the configuration file: %s: %w",
			strings.Join(conflicts, ", "), cerrdefs.ErrInvalidArgument)
	}
	return nil
}

// Validate rejects values no kernel can be assembled from.
func (conf *Config) Validate() error {
	if conf.Init == "" || !strings.HasPrefix(conf.Init, "/") {
		return fmt.Errorf("init must be an absolute path, got %q: %w", conf.Init, cerrdefs.ErrInvalidArgument)
	}
	if conf.MemoryPages < 0 {
		return fmt.Errorf("invalid memory budget: %d pages: %w", conf.MemoryPages, cerrdefs.ErrInvalidArgument)
	}
	if conf.MaxProcs < 0 {
		return fmt.Errorf("invalid process table size: %d: %w", conf.MaxProcs, cerrdefs.ErrInvalidArgument)
	}
	if _, err := logrus.ParseLevel(conf.LogLevel); err != nil {
		return fmt.Errorf("invalid logging level %q: %w", conf.LogLevel, cerrdefs.ErrInvalidArgument)
	}
	switch conf.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: %w", conf.LogFormat, cerrdefs.ErrInvalidArgument)
	}
	return nil
}
