package scheduler

import "context"

// OrphanStore removes output directories not owned by a live session.
type OrphanStore interface {
	SweepOrphans(active []string) ([]string, error)
}

// ActiveSessions lists the names currently registered with the manager.
type ActiveSessions interface {
	ActiveNames() []string
}

// OrphanSweepJob deletes HLS directories left behind by sessions that no
// longer exist, for example after a crash.
type OrphanSweepJob struct {
	store    OrphanStore
	sessions ActiveSessions
}

// NewOrphanSweepJob creates the sweep job.
func NewOrphanSweepJob(store OrphanStore, sessions ActiveSessions) *OrphanSweepJob {
	return &OrphanSweepJob{store: store, sessions: sessions}
}

// Name implements Job.
func (j *OrphanSweepJob) Name() string { return "hls_orphan_sweep" }

// Run implements Job.
func (j *OrphanSweepJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := j.store.SweepOrphans(j.sessions.ActiveNames())
	return err
}

// HistoryPruner deletes expired session history.
type HistoryPruner interface {
	Prune(ctx context.Context) (int64, error)
}

// HistoryPruneJob applies the history retention period.
type HistoryPruneJob struct {
	pruner HistoryPruner
}

// NewHistoryPruneJob creates the prune job.
func NewHistoryPruneJob(pruner HistoryPruner) *HistoryPruneJob {
	return &HistoryPruneJob{pruner: pruner}
}

// Name implements Job.
func (j *HistoryPruneJob) Name() string { return "history_prune" }

// Run implements Job.
func (j *HistoryPruneJob) Run(ctx context.Context) error {
	_, err := j.pruner.Prune(ctx)
	return err
}
