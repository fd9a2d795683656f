package statistics

import "go.uber.org/atomic"

type counterSet struct {
	jobs               atomic.Int64
	commits            atomic.Int64
	aborts             atomic.Int64
	recoveredCommitted atomic.Int64
	recoveredAborted   atomic.Int64
	escalations        atomic.Int64
	connections        atomic.Int64
}

var counters counterSet

// Snapshot is a point-in-time copy of the process counters.
type Snapshot struct {
	DDLJobs            int64
	Commits            int64
	Aborts             int64
	RecoveredCommitted int64
	RecoveredAborted   int64
	Escalations        int64
	OpenConnections    int64
}

func GetSnapshot() Snapshot {
	return Snapshot{
		DDLJobs:            counters.jobs.Load(),
		Commits:            counters.commits.Load(),
		Aborts:             counters.aborts.Load(),
		RecoveredCommitted: counters.recoveredCommitted.Load(),
		RecoveredAborted:   counters.recoveredAborted.Load(),
		Escalations:        counters.escalations.Load(),
		OpenConnections:    counters.connections.Load(),
	}
}
