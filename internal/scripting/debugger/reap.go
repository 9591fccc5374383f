package debugger

import "syscall"

// childReaper tracks pids spawned for forked sessions so the surrounding
// process-supervision loop can reap them, per spec.md §4.3's "child reaping"
// rule. Grounded on the pack's self-respawn pattern of tracking a spawned
// child's pid for later signaling (compare the dev-console bridge's
// exec.Command + cmd.Process handling).
type childReaper struct {
	pids []int
}

func newChildReaper() *childReaper { return &childReaper{} }

// Track records pid as a pending child.
func (r *childReaper) Track(pid int) { r.pids = append(r.pids, pid) }

// Pids returns a snapshot of the currently tracked pids.
func (r *childReaper) Pids() []int {
	out := make([]int, len(r.pids))
	copy(out, r.pids)
	return out
}

// KillAll sends SIGKILL to every tracked pid and resets the list. Failures
// signaling an already-dead child are ignored, matching the "best effort"
// cleanup a supervision loop performs.
func (r *childReaper) KillAll() {
	for _, pid := range r.pids {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	r.pids = nil
}
