package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/config"
)

// Overridden at build time through -ldflags.
var (
	version   = "dev"
	gitCommit = "library-import"
)

const defaultConfigFile = "/etc/mizzen/mizzend.json"

type daemonOptions struct {
	version      bool
	configFile   string
	daemonConfig *config.Config
	flags        *pflag.FlagSet
}

func newDaemonOptions(conf *config.Config) *daemonOptions {
	return &daemonOptions{daemonConfig: conf}
}

func newDaemonCommand() *cobra.Command {
	opts := newDaemonOptions(config.New())

	cmd := &cobra.Command{
		Use:           "mizzend [OPTIONS]",
		Short:         "A self-sufficient runtime for mizzen machines.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.flags = cmd.Flags()
			return runDaemon(opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.version, "version", "v", false, "Print version information and quit")
	flags.StringVar(&opts.configFile, "config-file", defaultConfigFile, "Daemon configuration file")
	config.InstallFlags(opts.daemonConfig, flags)

	return cmd
}

func showVersion() {
	fmt.Printf("mizzend version %s, build %s\n", version, gitCommit)
}

// statusError carries init's terminal status out of runDaemon so the
// machine's outcome becomes the daemon's own exit code.
type statusError struct {
	status abi.WaitStatus
}

func (e statusError) Error() string {
	if e.status.Killed() {
		return "init was killed"
	}
	return fmt.Sprintf("init exited with status %d", e.status.ExitCode())
}

// ExitCode maps a kill to 137, the shell convention for SIGKILL.
func (e statusError) ExitCode() int {
	if e.status.Killed() {
		return 137
	}
	return e.status.ExitCode()
}

func main() {
	logrus.SetOutput(os.Stderr)

	cmd := newDaemonCommand()
	cmd.SetOut(os.Stdout)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var sterr statusError
		if errors.As(err, &sterr) {
			os.Exit(sterr.ExitCode())
		}
		os.Exit(1)
	}
}
