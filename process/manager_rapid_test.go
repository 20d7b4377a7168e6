package process

import (
	"context"
	"testing"

	"pgregory.net/rapid"

	"github.com/mizzen-os/mizzen/abi"
	"github.com/mizzen-os/mizzen/prog"
	"github.com/mizzen-os/mizzen/vm"
)

func rapidProcess(pool *vm.Pool) *Process {
	space := vm.NewAddressSpace(pool)
	var tf abi.TrapFrame
	fn := func(ctx context.Context, p prog.Process) int { return 0 }
	return New("/bin/p", "p", fn, space, tf)
}

// TestManagerBookkeeping drives random spawn/exit/reap interleavings
// against a reference model: pids are unique and monotonic, the child
// sets track registration, and every exited child is reaped exactly
// once with the status word it exited with.
func TestManagerBookkeeping(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		pool := vm.NewPool(0)
		m := NewManager(0)

		root, err := m.Add(rapidProcess(pool), 0)
		if err != nil {
			rt.Fatalf("add root: %v", err)
		}

		live := []int{root}                 // runnable pids, root first
		zombies := map[int]abi.WaitStatus{} // exited, unreaped
		kids := map[int][]int{}             // parent -> unreaped children, ascending
		maxPid := root

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0: // spawn under a random live pid
				parent := rapid.SampledFrom(live).Draw(rt, "parent")
				pid, err := m.Add(rapidProcess(pool), parent)
				if err != nil {
					rt.Fatalf("add: %v", err)
				}
				if pid <= maxPid {
					rt.Fatalf("pid %d not monotonic (max seen %d)", pid, maxPid)
				}
				maxPid = pid
				live = append(live, pid)
				kids[parent] = append(kids[parent], pid)
			case 1: // exit a random live non-root pid
				if len(live) <= 1 {
					continue
				}
				idx := rapid.IntRange(1, len(live)-1).Draw(rt, "victim")
				pid := live[idx]
				ws := abi.ExitStatus(rapid.IntRange(0, 255).Draw(rt, "code"))
				if existed, _ := m.Exit(pid, ws); !existed {
					rt.Fatalf("exit of live pid %d failed", pid)
				}
				live = append(live[:idx], live[idx+1:]...)
				zombies[pid] = ws
			case 2: // reap wherever the model proves wait cannot block
				waiter := rapid.SampledFrom(live).Draw(rt, "waiter")
				target := 0
				for _, k := range kids[waiter] {
					if _, ok := zombies[k]; ok {
						target = k
						break
					}
				}
				if target == 0 {
					if len(kids[waiter]) == 0 {
						_, _, err := m.Wait4(waiter, abi.WaitAny, never)
						if abi.FromError(err) != abi.ECHILD {
							rt.Fatalf("wait with no children: want ECHILD, got %v", err)
						}
					}
					continue
				}
				pid, ws, err := m.Wait4(waiter, abi.WaitAny, never)
				if err != nil {
					rt.Fatalf("wait: %v", err)
				}
				if pid != target {
					rt.Fatalf("reaped %d, model says %d", pid, target)
				}
				if ws != zombies[pid] {
					rt.Fatalf("status %#x, model says %#x", ws, zombies[pid])
				}
				delete(zombies, pid)
				remaining := kids[waiter][:0]
				for _, k := range kids[waiter] {
					if k != pid {
						remaining = append(remaining, k)
					}
				}
				kids[waiter] = remaining
				delete(kids, pid) // orphans below pid stay in the table, unreapable
			}
		}

		// The table holds exactly the model's live and zombie pids.
		want := map[int]bool{}
		for _, pid := range live {
			want[pid] = true
		}
		for pid := range zombies {
			want[pid] = true
		}
		got := m.Pids()
		if len(got) != len(want) {
			rt.Fatalf("table has %d records, model has %d", len(got), len(want))
		}
		for _, pid := range got {
			if !want[pid] {
				rt.Fatalf("unexpected pid %d in table", pid)
			}
		}
	})
}
