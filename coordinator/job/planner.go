package job

import (
	"context"
	"errors"

	"github.com/pg-sharding/ddlcoord/coordinator/execmode"
	"github.com/pg-sharding/ddlcoord/coordinator/fkgraph"
	"github.com/pg-sharding/ddlcoord/coordinator/metasync"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

// Tx is the part of the coordinated transaction planners may touch.
//
//go:generate mockgen -destination=pkg/mock/job/mock_tx.go -package=mock_job github.com/pg-sharding/ddlcoord/coordinator/job Tx
type Tx interface {
	metasync.Sender

	InTransactionBlock() bool
	ExecutionMode() *execmode.State
	MarkInvalidateForeignKeyGraph()
	AcquireDistributedLocks(ctx context.Context, nodes []catalog.WorkerNode, localGroup int32, lockCommands []string) error
}

type Severity string

const (
	SeverityNotice  Severity = "NOTICE"
	SeverityWarning Severity = "WARNING"
)

// Notice is a message for the client that does not abort the statement.
type Notice struct {
	Severity Severity
	Message  string
	Detail   string
	Hint     string
}

// PlanContext carries everything a planner reads while turning one
// statement into jobs.
type PlanContext struct {
	Dir         catalog.Directory
	Distributor catalog.Distributor
	Graph       *fkgraph.Graph
	Policy      *execmode.Policy
	Builder     *Builder
	Sync        *metasync.Broadcaster
	Tx          Tx

	SearchPath  []string
	CurrentUser string
	SessionUser string

	EnableDDLPropagation bool

	Notices []Notice
}

// Notify records n for the client and logs it.
func (pc *PlanContext) Notify(n Notice) {
	pc.Notices = append(pc.Notices, n)

	ev := coordlog.Zero.Info()
	if n.Severity == SeverityWarning {
		ev = coordlog.Zero.Warn()
	}
	ev.Str("detail", n.Detail).Str("hint", n.Hint).Msg(n.Message)
}

func (pc *PlanContext) Notice(msg, hint string) {
	pc.Notify(Notice{Severity: SeverityNotice, Message: msg, Hint: hint})
}

func (pc *PlanContext) Warning(msg, hint string) {
	pc.Notify(Notice{Severity: SeverityWarning, Message: msg, Hint: hint})
}

// lookup resolves rv to a relation; unknown names resolve to nil so that
// the local engine reports them.
func (pc *PlanContext) lookup(ctx context.Context, rv *stmt.RangeVar) (*catalog.Relation, error) {
	if rv == nil {
		return nil, nil
	}
	id, err := pc.Dir.LookupRelation(ctx, rv.Schema, rv.Name, pc.SearchPath)
	return pc.relation(ctx, id, err)
}

// lookupIndex resolves an index name to the table it is defined on.
func (pc *PlanContext) lookupIndex(ctx context.Context, rv *stmt.RangeVar) (*catalog.Relation, error) {
	id, err := pc.Dir.LookupIndex(ctx, rv.Schema, rv.Name, pc.SearchPath)
	return pc.relation(ctx, id, err)
}

func (pc *PlanContext) relation(ctx context.Context, id catalog.RelationID, err error) (*catalog.Relation, error) {
	if errors.Is(err, catalog.ErrRelationNotFound) || errors.Is(err, catalog.ErrAmbiguousName) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rel, err := pc.Dir.Relation(ctx, id)
	if errors.Is(err, catalog.ErrRelationNotFound) {
		return nil, nil
	}
	return rel, err
}

// lookupDistributed is lookup restricted to distributed relations.
func (pc *PlanContext) lookupDistributed(ctx context.Context, rv *stmt.RangeVar) (*catalog.Relation, error) {
	rel, err := pc.lookup(ctx, rv)
	if err != nil || rel == nil || !rel.Distributed {
		return nil, err
	}
	return rel, nil
}

// EnsureCoordinator fails on nodes other than the coordinator.
func (pc *PlanContext) EnsureCoordinator(ctx context.Context) error {
	group, err := pc.Dir.LocalGroupID(ctx)
	if err != nil {
		return err
	}
	if group != catalog.CoordinatorGroupID {
		return coorderror.New(coorderror.COORD_NOT_COORDINATOR, "operation is not allowed on this node").
			WithHint("Connect to the coordinator and run it again.")
	}
	return nil
}

// ddlJob builds the usual single job of a relation level command.
func (pc *PlanContext) ddlJob(ctx context.Context, rel *catalog.Relation, command string) (*DDLJob, error) {
	tasks, err := pc.Builder.DDLTaskList(ctx, rel, command)
	if err != nil {
		return nil, err
	}
	return &DDLJob{
		TargetRelation: rel.ID,
		Command:        command,
		Tasks:          tasks,
	}, nil
}

// Planner builds the remote part of one statement kind. It runs before the
// local engine applies the statement; nil jobs leave the statement local.
type Planner interface {
	Plan(ctx context.Context, pc *PlanContext, node stmt.Node, command string) ([]*DDLJob, error)
}

// PostLocalPlanner runs after the local engine applied the statement and
// before any job executes.
type PostLocalPlanner interface {
	PostLocal(ctx context.Context, pc *PlanContext, node stmt.Node, jobs []*DDLJob) error
}

// TwoPhaseRequirer forces two-phase commit for the statement's transaction.
type TwoPhaseRequirer interface {
	Requires2PC(ctx context.Context, pc *PlanContext, jobs []*DDLJob) (bool, error)
}

// Registry dispatches statements to planners by kind.
type Registry struct {
	planners map[stmt.Kind]Planner
}

func NewRegistry() *Registry {
	r := &Registry{planners: map[stmt.Kind]Planner{}}

	r.Register(stmt.KindAlterTable, alterTablePlanner{})
	r.Register(stmt.KindRename, renamePlanner{})
	r.Register(stmt.KindAlterObjectSchema, setSchemaPlanner{})
	r.Register(stmt.KindAlterTableMoveAll, moveAllPlanner{})
	r.Register(stmt.KindIndex, indexPlanner{})
	r.Register(stmt.KindDrop, dropPlanner{})
	r.Register(stmt.KindGrant, grantPlanner{})
	r.Register(stmt.KindVacuum, vacuumPlanner{})
	r.Register(stmt.KindTruncate, truncatePlanner{})
	r.Register(stmt.KindCreateTable, createTablePlanner{})
	r.Register(stmt.KindCreatePolicy, policyPlanner{})
	r.Register(stmt.KindAlterPolicy, policyPlanner{})
	r.Register(stmt.KindCluster, clusterPlanner{})
	r.Register(stmt.KindCreateRole, createRolePlanner{})
	r.Register(stmt.KindCreateDatabase, createDatabasePlanner{})

	return r
}

func (r *Registry) Register(kind stmt.Kind, p Planner) {
	r.planners[kind] = p
}

// For returns the planner for kind; ok is false for statements that never
// need coordination.
func (r *Registry) For(kind stmt.Kind) (Planner, bool) {
	p, ok := r.planners[kind]
	return p, ok
}

// replicatedModel requires 2PC when any target relation replicates with it.
type replicatedModel struct{}

func (replicatedModel) Requires2PC(ctx context.Context, pc *PlanContext, jobs []*DDLJob) (bool, error) {
	for _, j := range jobs {
		rel, err := pc.Dir.Relation(ctx, j.TargetRelation)
		if err != nil {
			return false, err
		}
		if rel.ReplicationModel == catalog.ReplicationModel2PC {
			return true, nil
		}
	}
	return false, nil
}
