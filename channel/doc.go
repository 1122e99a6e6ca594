// Package channel implements the hierarchical scheduler of the runner.
//
// Channels form a tree rooted at "root". Every channel has a capacity, the
// number of jobs that may run at once in its subtree, and optionally runs
// one job at a time (sequential) or starts at most one job per interval
// (throttle). A job runs only when every channel on its path has room.
//
// # Configuration
//
// Channels are configured with a compact string:
//
//	root:4,root.mail:2,root.export:1:sequential,root.sync:2:throttle=10
//
// Each entry is path[:capacity][:option...]. Options are sequential,
// throttle=<seconds>, enqueued_delta=<seconds>, started_delta=<seconds>
// and removal_interval=<days>. Paths without the "root." prefix are rooted.
// A missing root entry means root:1.
//
// # Manager
//
// [Manager] keeps, per channel, a queue of runnable jobs ordered by
// (priority, eta or creation date, seq), a queue of jobs waiting for their
// eta and the set of running jobs charged to the channel and its
// ancestors. The runner feeds it with [Manager.Notify] and asks it for
// work with [Manager.GetJobsToRun]:
//
//	m := channel.NewManager()
//	if err := m.ConfigureString("root:4,root.mail:2"); err != nil { ... }
//	m.Notify("db1", row, now)
//	for _, j := range m.GetJobsToRun(now) {
//	    // lease and dispatch j
//	}
//
// Sibling channels are served round-robin so a busy subchannel cannot
// starve the others. A channel with capacity 0 blocks its whole subtree.
// Unknown channels are created on the fly with the default subchannel
// capacity, unlimited unless configured.
package channel
