package userland_test

import (
	"context"
	"testing"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/kernel"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/userland"
	"github.com/mizzen-os/mizzen/vfs"
)

func TestRegisterRejectsSecondRegistration(t *testing.T) {
	table := prog.NewTable()
	assert.NilError(t, userland.Register(table))
	err := userland.Register(table)
	assert.Assert(t, cerrdefs.IsConflict(err), "got: %[1]T: %[1]v", err)
}

func TestImagesCoverEveryRegisteredProgram(t *testing.T) {
	table := prog.NewTable()
	assert.NilError(t, userland.Register(table))

	images := userland.Images()
	assert.Check(t, is.Len(images, len(table.Names())))
	for _, name := range table.Names() {
		_, ok := images["/bin/"+name]
		assert.Check(t, ok, "no image for %s", name)
	}
}

// The whole built-in world should come up, run its children to
// completion, and leave init exited cleanly.
func TestWorldSettles(t *testing.T) {
	table := prog.NewTable()
	assert.NilError(t, userland.Register(table))

	root := vfs.NewMemFS()
	assert.NilError(t, userland.Seed(root))

	k, err := kernel.New(kernel.Options{Root: root, Programs: table})
	assert.NilError(t, err)

	ctx := context.Background()
	init, err := k.Boot(ctx, "/bin/init", nil)
	assert.NilError(t, err)

	select {
	case <-init.State().Wait():
	case <-time.After(10 * time.Second):
		t.Fatal("init did not exit")
	}
	k.Shutdown(ctx)
	k.Wait()

	ws := init.State().ExitStatus()
	assert.Check(t, ws.Exited())
	assert.Check(t, is.Equal(ws.ExitCode(), 0))

	// init reaped its children, so it is the only record left.
	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if n := k.Processes().Len(); n != 1 {
			return poll.Continue("%d records still around", n)
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second))
}

func TestEchoExitsWithArgCount(t *testing.T) {
	table := prog.NewTable()
	assert.NilError(t, userland.Register(table))

	root := vfs.NewMemFS()
	assert.NilError(t, userland.Seed(root))

	k, err := kernel.New(kernel.Options{Root: root, Programs: table})
	assert.NilError(t, err)

	ctx := context.Background()
	p, err := k.Boot(ctx, "/bin/echo", []string{"/bin/echo", "one", "two", "three"})
	assert.NilError(t, err)

	select {
	case <-p.State().Wait():
	case <-time.After(10 * time.Second):
		t.Fatal("echo did not exit")
	}
	assert.Check(t, is.Equal(p.State().ExitStatus(), abi.ExitStatus(3)))
}
