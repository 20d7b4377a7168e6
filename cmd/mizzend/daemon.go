package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/containerd/log"
	units "github.com/docker/go-units"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/config"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/kernel"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/userland"
	"github.com/mizzen-os/mizzen/vfs"
	"github.com/mizzen-os/mizzen/vm"
)

func runDaemon(opts *daemonOptions) error {
	if opts.version {
		showVersion()
		return nil
	}

	conf, err := loadDaemonConfig(opts)
	if err != nil {
		return err
	}
	configureDaemonLogs(conf)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table := prog.NewTable()
	if err := userland.Register(table); err != nil {
		return err
	}

	root, closeRoot, err := openRoot(conf)
	if err != nil {
		return err
	}
	defer closeRoot()

	k, err := kernel.New(kernel.Options{
		Root:     root,
		Programs: table,
		Pool:     vm.NewPool(conf.MemoryPages),
		MaxProcs: conf.MaxProcs,
	})
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{
		"boot-id": k.BootID,
		"version": version,
		"commit":  gitCommit,
	}).Info("starting up")

	evCtx, evCancel := context.WithCancel(context.Background())
	defer evCancel()

	var group errgroup.Group
	group.Go(func() error {
		logEvents(evCtx, k.Events())
		return nil
	})

	init, err := k.Boot(ctx, conf.Init, conf.InitArgs)
	if err != nil {
		evCancel()
		_ = group.Wait()
		return err
	}

	group.Go(func() error {
		select {
		case <-ctx.Done():
			log.G(ctx).Info("shutdown signal received")
		case <-init.State().Wait():
		}
		k.Shutdown(context.WithoutCancel(ctx))
		evCancel()
		return nil
	})
	if err := group.Wait(); err != nil {
		return err
	}

	ws := init.State().ExitStatus()
	log.G(ctx).WithFields(log.Fields{
		"pid":    init.ID,
		"status": uint32(ws),
		"uptime": units.HumanDuration(init.State().FinishedAt().Sub(init.State().StartedAt())),
	}).Info("init exited")
	if ws != abi.ExitStatus(0) {
		return statusError{status: ws}
	}
	return nil
}

// loadDaemonConfig layers the configuration file, when there is one,
// over the flag-bound defaults. A missing file is only an error when
// the operator asked for it by name.
func loadDaemonConfig(opts *daemonOptions) (*config.Config, error) {
	conf := opts.daemonConfig
	flags := opts.flags

	if opts.configFile != "" {
		c, err := config.Merge(conf, flags, opts.configFile)
		if err != nil {
			if flags.Changed("config-file") || !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, "unable to configure the daemon with file %s", opts.configFile)
			}
		}
		if c != nil {
			conf = c
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// configureDaemonLogs sets the logging level and format. Invalid
// values are logged and skipped rather than fatal: by the time they
// surface the daemon is already the only set of eyes on the machine.
func configureDaemonLogs(conf *config.Config) {
	level := conf.LogLevel
	if conf.Debug {
		level = "debug"
	}
	if level == "" {
		level = config.DefaultLogLevel
	}
	if err := log.SetLevel(level); err != nil {
		log.G(context.TODO()).WithError(err).Warn("unable to configure logging level")
	}
	format := conf.LogFormat
	if format == "" {
		format = string(log.TextFormat)
	}
	if err := log.SetFormat(log.OutputFormat(format)); err != nil {
		log.G(context.TODO()).WithError(err).Warn("unable to configure logging format")
	}
}

// openRoot picks the boot filesystem: the configured disk image when
// there is one, the built-in memory root otherwise.
func openRoot(conf *config.Config) (vfs.FileSystem, func() error, error) {
	if conf.DiskImage != "" {
		bfs, err := vfs.OpenBolt(conf.DiskImage)
		if err != nil {
			return nil, nil, errors.WithMessagef(err, "open disk image %s", conf.DiskImage)
		}
		return bfs, bfs.Close, nil
	}
	root := vfs.NewMemFS()
	if err := userland.Seed(root); err != nil {
		return nil, nil, err
	}
	return root, func() error { return nil }, nil
}

// logEvents mirrors kernel lifecycle events into the daemon log until
// ctx is cancelled.
func logEvents(ctx context.Context, bus *events.Bus) {
	backlog, ch, cancel := bus.Subscribe()
	defer cancel()
	for _, ev := range backlog {
		logEvent(ctx, ev)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if ev, ok := m.(events.Event); ok {
				logEvent(ctx, ev)
			}
		}
	}
}

func logEvent(ctx context.Context, ev events.Event) {
	fields := log.Fields{"type": ev.Type, "pid": ev.PID}
	if ev.PPID != 0 {
		fields["ppid"] = ev.PPID
	}
	if ev.Path != "" {
		fields["path"] = ev.Path
	}
	switch ev.Type {
	case events.TypeExit, events.TypeKill, events.TypeReap:
		fields["status"] = uint32(ev.Status)
	}
	log.G(ctx).WithFields(fields).Info("event")
}
