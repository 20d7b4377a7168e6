package main

import (
	"testing"

	"github.com/containerd/log"
	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/config"
)

func defaultOptions(t *testing.T, configFile string) *daemonOptions {
	t.Helper()
	opts := newDaemonOptions(config.New())
	opts.flags = &pflag.FlagSet{}
	opts.flags.StringVar(&opts.configFile, "config-file", defaultConfigFile, "")
	config.InstallFlags(opts.daemonConfig, opts.flags)
	if configFile != "" {
		opts.configFile = configFile
	}
	assert.NilError(t, opts.flags.Parse([]string{}))
	return opts
}

func TestLoadDaemonConfigWithoutOverriding(t *testing.T) {
	opts := defaultOptions(t, "")
	opts.daemonConfig.Debug = true

	loadedConfig, err := loadDaemonConfig(opts)
	assert.NilError(t, err)
	assert.Assert(t, loadedConfig != nil)
	assert.Check(t, loadedConfig.Debug, "expected debug mode to survive the missing default file")
}

func TestLoadDaemonConfigFromFile(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"init": "/sbin/init", "memory-pages": 512}`))
	defer tempFile.Remove()

	opts := defaultOptions(t, tempFile.Path())
	loadedConfig, err := loadDaemonConfig(opts)
	assert.NilError(t, err)
	assert.Assert(t, loadedConfig != nil)
	assert.Check(t, is.Equal("/sbin/init", loadedConfig.Init))
	assert.Check(t, is.Equal(512, loadedConfig.MemoryPages))
}

func TestLoadDaemonConfigWithConflicts(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"log-level": "warn"}`))
	defer tempFile.Remove()
	configFile := tempFile.Path()

	opts := defaultOptions(t, configFile)
	flags := opts.flags

	assert.Check(t, flags.Set("config-file", configFile))
	assert.Check(t, flags.Set("log-level", "debug"))

	_, err := loadDaemonConfig(opts)
	assert.Check(t, is.ErrorContains(err, "as a flag and in the configuration file: log-level"))
}

func TestLoadDaemonConfigMissingExplicitFile(t *testing.T) {
	opts := defaultOptions(t, "")
	assert.Check(t, opts.flags.Set("config-file", "/nonexistent/mizzend.json"))
	opts.configFile = "/nonexistent/mizzend.json"

	_, err := loadDaemonConfig(opts)
	assert.Check(t, is.ErrorContains(err, "unable to configure the daemon with file /nonexistent/mizzend.json"))
}

func TestLoadDaemonConfigWithLogLevel(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"log-level": "warn"}`))
	defer tempFile.Remove()

	opts := defaultOptions(t, tempFile.Path())
	loadedConfig, err := loadDaemonConfig(opts)
	assert.NilError(t, err)
	assert.Assert(t, loadedConfig != nil)
	assert.Check(t, is.Equal("warn", loadedConfig.LogLevel))
}

func TestLoadDaemonConfigWithInvalidLogFormat(t *testing.T) {
	tempFile := fs.NewFile(t, "config", fs.WithContent(`{"log-format": "foo"}`))
	defer tempFile.Remove()

	opts := defaultOptions(t, tempFile.Path())
	_, err := loadDaemonConfig(opts)
	assert.Check(t, is.ErrorContains(err, `invalid log format "foo"`))
}

func TestConfigureDaemonLogs(t *testing.T) {
	conf := &config.Config{}
	configureDaemonLogs(conf)
	assert.Check(t, is.Equal(log.InfoLevel, log.GetLevel()))

	// An unparseable level leaves the previous one in place.
	conf.LogLevel = "foobar"
	configureDaemonLogs(conf)
	assert.Check(t, is.Equal(log.InfoLevel, log.GetLevel()))

	conf.LogLevel = "warn"
	configureDaemonLogs(conf)
	assert.Check(t, is.Equal(log.WarnLevel, log.GetLevel()))

	conf.LogLevel = ""
	conf.Debug = true
	configureDaemonLogs(conf)
	assert.Check(t, is.Equal(log.DebugLevel, log.GetLevel()))

	conf.Debug = false
	conf.LogLevel = "info"
	configureDaemonLogs(conf)
}

func TestStatusErrorExitCode(t *testing.T) {
	assert.Check(t, is.Equal(statusError{status: abi.ExitStatus(3)}.ExitCode(), 3))
	assert.Check(t, is.Equal(statusError{status: abi.WaitStatus(abi.StatusKilled)}.ExitCode(), 137))
	assert.Check(t, is.Equal(statusError{status: abi.WaitStatus(abi.StatusKilled)}.Error(), "init was killed"))
}
