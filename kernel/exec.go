package kernel

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/events"
	"github.com/mizzen-os/mizzen/process"
)

// sysExec replaces the calling process's image with the binary named
// by argv[0]. Every step that can fail runs against a replacement
// image built off to the side; the caller's image is touched only past
// the point where nothing can fail anymore. On success the old program
// never sees the return: the thread unwinds and re-enters through the
// new image's entry point.
func (k *Kernel) sysExec(ctx context.Context, p *process.Process, tf *abi.TrapFrame) (uint64, error) {
	pathAddr, argvAddr, envpAddr := tf.Arg(0), tf.Arg(1), tf.Arg(2)
	space := p.Space()

	// A null name is tolerated; a null argv is not, since argv[0]
	// names the binary.
	name := ""
	if pathAddr != 0 {
		var err error
		if name, err = space.ReadCString(pathAddr); err != nil {
			return 0, err
		}
	}
	if argvAddr == 0 {
		return 0, errors.Wrap(abi.EINVAL, "exec with null argv")
	}
	args, err := space.ReadPtrVec(argvAddr)
	if err != nil {
		return 0, err
	}
	if len(args) == 0 {
		return 0, errors.Wrap(abi.EINVAL, "exec with empty argv")
	}
	var env []string
	if envpAddr != 0 {
		if env, err = space.ReadPtrVec(envpAddr); err != nil {
			return 0, err
		}
	}

	resolved := k.resolvePath(p, args[0])
	img, err := k.loader.Read(ctx, resolved)
	if err != nil {
		return 0, err
	}
	if name == "" {
		name = resolved
	}
	repl, err := k.loader.NewUser(name, img, args, env)
	if err != nil {
		return 0, err
	}

	// Commit point. Nothing below can fail: activate the new space,
	// move the image into the record, and throw away the old stack.
	repl.Space().Activate(p.CPU())
	p.AdoptImage(repl)

	log.G(ctx).WithFields(log.Fields{
		"pid":  p.ID,
		"path": resolved,
		"argc": len(args),
	}).Debug("exec")
	k.publish(events.Event{Type: events.TypeExec, PID: p.ID, PPID: p.Parent(), Path: resolved})
	panic(execThrow{})
}
