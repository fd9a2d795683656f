// Package job turns utility statements into DDL jobs: per-shard task lists
// plus the flags the executor needs to run them.
package job

import (
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"go.uber.org/atomic"
)

type TaskKind int

const (
	TaskDDL TaskKind = iota
	TaskInterShardDDL
	TaskVacuumAnalyze
	TaskOther
)

func (k TaskKind) String() string {
	switch k {
	case TaskDDL:
		return "DDL"
	case TaskInterShardDDL:
		return "INTER SHARD DDL"
	case TaskVacuumAnalyze:
		return "VACUUM ANALYZE"
	default:
		return "OTHER"
	}
}

// RelationShard pairs a relation with the shard a task touches on it.
type RelationShard struct {
	RelationID catalog.RelationID
	ShardID    catalog.ShardID
}

type Task struct {
	JobID  uint64
	TaskID int
	Kind   TaskKind
	Query  string

	AnchorShardID  catalog.ShardID
	Placements     []catalog.ShardPlacement
	RelationShards []RelationShard

	// DependedTasks is reserved; DDL task lists are flat.
	DependedTasks []*Task
}

type DDLJob struct {
	TargetRelation      catalog.RelationID
	Command             string
	ConcurrentIndex     bool
	ExecuteSequentially bool
	// Bare jobs run outside the coordinated transaction, as VACUUM must.
	Bare bool
	// SkipMetadataSync keeps the command away from metadata workers even
	// when the target relation is synced.
	SkipMetadataSync bool
	Tasks            []*Task
}

var jobIDs atomic.Uint64

// NextJobID is unique within the process.
func NextJobID() uint64 {
	return jobIDs.Inc()
}
