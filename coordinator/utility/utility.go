// Package utility is the entry point for utility statements on the
// coordinator: it plans the remote part of a statement, lets the local
// engine apply it and runs the resulting jobs inside the coordinated
// transaction.
package utility

import (
	"context"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/pg-sharding/ddlcoord/coordinator/execmode"
	"github.com/pg-sharding/ddlcoord/coordinator/fkgraph"
	"github.com/pg-sharding/ddlcoord/coordinator/job"
	"github.com/pg-sharding/ddlcoord/coordinator/metasync"
	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/coordinator/xact"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

// LocalEngine is the single-node engine the coordinator runs on.
//
//go:generate mockgen -destination=pkg/mock/utility/mock_engine.go -package=mock_utility github.com/pg-sharding/ddlcoord/coordinator/utility LocalEngine
type LocalEngine interface {
	// ApplyLocal runs the statement in the local transaction.
	ApplyLocal(ctx context.Context, node stmt.Node, command string) error
	// CommitLocal commits the local transaction. A non-empty decision is the
	// id of a distributed transaction whose commit point this is; the engine
	// runs catalog.InsertCommitMarker with it before committing.
	CommitLocal(ctx context.Context, decision string) error
	RollbackLocal(ctx context.Context) error
}

type Settings struct {
	EnableDDLPropagation bool
	EnableMetadataSync   bool
}

func SettingsFromConfig(cfg *config.Coordinator) Settings {
	return Settings{
		EnableDDLPropagation: cfg.EnableDDLPropagation,
		EnableMetadataSync:   cfg.EnableMetadataSync,
	}
}

// Hook is shared by all sessions of a coordinator.
type Hook struct {
	dir         catalog.Directory
	distributor catalog.Distributor
	txm         *xact.Manager

	graph    *fkgraph.Graph
	policy   *execmode.Policy
	builder  *job.Builder
	sync     *metasync.Broadcaster
	registry *job.Registry

	s Settings
}

func NewHook(dir catalog.Directory, distributor catalog.Distributor, txm *xact.Manager, s Settings) *Hook {
	graph := fkgraph.New(dir)
	return &Hook{
		dir:         dir,
		distributor: distributor,
		txm:         txm,
		graph:       graph,
		policy:      execmode.NewPolicy(dir, graph),
		builder:     job.NewBuilder(dir),
		sync:        metasync.NewBroadcaster(dir, s.EnableMetadataSync),
		registry:    job.NewRegistry(),
		s:           s,
	}
}

func (h *Hook) Graph() *fkgraph.Graph {
	return h.graph
}

func (h *Hook) Registry() *job.Registry {
	return h.registry
}

// Session is the per-connection state of a client session. It is not safe
// for concurrent use.
type Session struct {
	hook   *Hook
	engine LocalEngine

	SearchPath  []string
	CurrentUser string
	SessionUser string

	tx          *xact.TxContext
	inTxBlock   bool
	blockFailed bool
}

func (h *Hook) NewSession(engine LocalEngine, user string) *Session {
	return &Session{
		hook:        h,
		engine:      engine,
		SearchPath:  []string{"public"},
		CurrentUser: user,
		SessionUser: user,
	}
}

func (s *Session) InTransactionBlock() bool {
	return s.inTxBlock
}

// Tx returns the coordinated transaction in progress, if any.
func (s *Session) Tx() *xact.TxContext {
	return s.tx
}

func errBlockFailed() error {
	return coorderror.New(coorderror.COORD_TX_ABORTED,
		"current transaction is aborted, commands ignored until end of transaction block")
}

// ProcessUtility handles one utility statement end to end. Outside a
// transaction block the statement commits on its own.
func (s *Session) ProcessUtility(ctx context.Context, node stmt.Node, command string) ([]job.Notice, error) {
	if ts, ok := node.(*stmt.TransactionStmt); ok {
		return nil, s.processTransaction(ctx, ts, command)
	}
	if s.blockFailed {
		return nil, errBlockFailed()
	}

	planner, ok := s.hook.registry.For(node.Kind())
	if !ok {
		coordlog.Zero.Debug().Str("kind", node.Kind().String()).Msg("statement needs no coordination")
		if err := s.engine.ApplyLocal(ctx, node, command); err != nil {
			s.fail(ctx)
			return nil, err
		}
		return nil, s.autocommit(ctx)
	}

	pc, err := s.planContext()
	if err != nil {
		return nil, err
	}
	if err := s.run(ctx, planner, pc, node, command); err != nil {
		s.fail(ctx)
		return pc.Notices, err
	}
	return pc.Notices, s.autocommit(ctx)
}

func (s *Session) planContext() (*job.PlanContext, error) {
	if s.tx == nil {
		tx, err := s.hook.txm.Begin(s.inTxBlock)
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return &job.PlanContext{
		Dir:                  s.hook.dir,
		Distributor:          s.hook.distributor,
		Graph:                s.hook.graph,
		Policy:               s.hook.policy,
		Builder:              s.hook.builder,
		Sync:                 s.hook.sync,
		Tx:                   s.tx,
		SearchPath:           s.SearchPath,
		CurrentUser:          s.CurrentUser,
		SessionUser:          s.SessionUser,
		EnableDDLPropagation: s.hook.s.EnableDDLPropagation,
	}, nil
}

func (s *Session) run(ctx context.Context, planner job.Planner, pc *job.PlanContext, node stmt.Node, command string) error {
	// the dirty flag is consumed once per statement, whatever happens
	consumed := false
	defer func() {
		if !consumed {
			s.invalidateForeignKeyGraph()
		}
	}()

	jobs, err := planner.Plan(ctx, pc, node, command)
	if err != nil {
		return err
	}
	if r, ok := planner.(job.TwoPhaseRequirer); ok && len(jobs) > 0 {
		need, err := r.Requires2PC(ctx, pc, jobs)
		if err != nil {
			return err
		}
		if need {
			s.tx.RequireTwoPhase()
		}
	}

	if err := s.engine.ApplyLocal(ctx, node, command); err != nil {
		return err
	}

	if post, ok := planner.(job.PostLocalPlanner); ok {
		if err := post.PostLocal(ctx, pc, node, jobs); err != nil {
			return err
		}
	}

	// remote jobs see the graph of the local catalog
	consumed = true
	s.invalidateForeignKeyGraph()

	for _, j := range jobs {
		if err := s.hook.ExecuteDistributedDDLJob(ctx, pc, s.tx, j); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) invalidateForeignKeyGraph() {
	if s.tx != nil && s.tx.ConsumeInvalidateForeignKeyGraph() {
		s.hook.graph.Invalidate()
	}
}

func (s *Session) autocommit(ctx context.Context) error {
	if s.inTxBlock {
		return nil
	}
	return s.Commit(ctx)
}

// fail aborts the statement. Inside a block the whole block is doomed and
// only ROLLBACK or COMMIT is accepted afterwards.
func (s *Session) fail(ctx context.Context) {
	if s.inTxBlock {
		s.blockFailed = true
		return
	}
	s.Abort(ctx)
}

// Commit commits the remote side and the local engine together.
func (s *Session) Commit(ctx context.Context) error {
	defer s.reset()

	if s.blockFailed {
		s.abortAll(ctx)
		return errBlockFailed()
	}
	if s.tx == nil {
		return s.engine.CommitLocal(ctx, "")
	}
	if err := s.tx.Commit(ctx, s.engine.CommitLocal); err != nil {
		if rbErr := s.engine.RollbackLocal(context.WithoutCancel(ctx)); rbErr != nil {
			coordlog.Zero.Debug().Err(rbErr).Msg("local rollback after failed commit")
		}
		return err
	}
	return nil
}

// Abort rolls back both sides.
func (s *Session) Abort(ctx context.Context) {
	defer s.reset()
	s.abortAll(ctx)
}

func (s *Session) abortAll(ctx context.Context) {
	if s.tx != nil {
		s.tx.Abort(ctx)
	}
	if err := s.engine.RollbackLocal(context.WithoutCancel(ctx)); err != nil {
		coordlog.Zero.Error().Err(err).Msg("failed to roll back local transaction")
	}
}

func (s *Session) reset() {
	// graphs built inside the transaction saw uncommitted constraints
	if s.tx != nil && s.tx.ForeignKeyGraphChanged() {
		s.hook.graph.Invalidate()
	}
	s.tx = nil
	s.inTxBlock = false
	s.blockFailed = false
}

func (s *Session) processTransaction(ctx context.Context, ts *stmt.TransactionStmt, command string) error {
	switch ts.TxKind {
	case stmt.TxBegin, stmt.TxStart:
		if s.inTxBlock {
			coordlog.Zero.Warn().Msg("there is already a transaction in progress")
			return nil
		}
		if err := s.engine.ApplyLocal(ctx, ts, command); err != nil {
			return err
		}
		s.inTxBlock = true
		return nil
	case stmt.TxCommit:
		if !s.inTxBlock {
			coordlog.Zero.Warn().Msg("there is no transaction in progress")
			return nil
		}
		return s.Commit(ctx)
	case stmt.TxRollback:
		if !s.inTxBlock {
			coordlog.Zero.Warn().Msg("there is no transaction in progress")
			return nil
		}
		s.Abort(ctx)
		return nil
	default:
		if s.blockFailed {
			return errBlockFailed()
		}
		// savepoints and explicit prepared transactions stay local
		if err := s.engine.ApplyLocal(ctx, ts, command); err != nil {
			s.fail(ctx)
			return err
		}
		return s.autocommit(ctx)
	}
}

// ExecuteDistributedDDLJob runs one job inside tx: the metadata relay
// first, then the shard tasks. CONCURRENTLY index jobs run outside tx and
// relay afterwards.
func (h *Hook) ExecuteDistributedDDLJob(ctx context.Context, pc *job.PlanContext, tx *xact.TxContext, j *job.DDLJob) error {
	if err := pc.EnsureCoordinator(ctx); err != nil {
		return err
	}
	if err := job.EnsurePartitionNotReplicated(ctx, h.dir, j.TargetRelation); err != nil {
		return err
	}

	rel, err := h.dir.Relation(ctx, j.TargetRelation)
	if err != nil {
		return err
	}

	span := opentracing.StartSpan("execute ddl job")
	defer span.Finish()
	span.SetTag("relation", rel.Name)
	span.SetTag("tasks", len(j.Tasks))
	span.SetTag("concurrent", j.ConcurrentIndex)

	kind := "transactional"
	switch {
	case j.ConcurrentIndex:
		kind = "concurrent"
	case j.Bare:
		kind = "bare"
	}
	statistics.RecordDDLJob(kind)

	shouldSync := !j.SkipMetadataSync && h.sync.ShouldSync(rel)
	sequential := tx.ExecutionMode().ShouldExecuteSequentially(j.ExecuteSequentially)

	coordlog.Zero.Debug().
		Str("relation", rel.Name).
		Int("tasks", len(j.Tasks)).
		Str("kind", kind).
		Bool("sequential", sequential).
		Bool("sync metadata", shouldSync).
		Msg("executing distributed ddl job")

	if j.ConcurrentIndex {
		err = h.executeConcurrent(ctx, pc, tx, j, shouldSync)
	} else {
		err = h.executeInTransaction(ctx, pc, tx, j, shouldSync, sequential)
	}
	if err != nil {
		span.SetTag("error", true)
	}
	return err
}

func (h *Hook) executeInTransaction(ctx context.Context, pc *job.PlanContext, tx *xact.TxContext, j *job.DDLJob, shouldSync, sequential bool) error {
	if shouldSync {
		if err := h.sync.Propagate(ctx, tx, pc.SearchPath, j.Command); err != nil {
			return err
		}
	}
	if j.Bare {
		return tx.ExecuteTasksBare(ctx, j.Tasks)
	}
	return tx.ExecuteTasks(ctx, j.Tasks, sequential)
}

func (h *Hook) executeConcurrent(ctx context.Context, pc *job.PlanContext, tx *xact.TxContext, j *job.DDLJob, shouldSync bool) error {
	err := tx.ExecuteTasksBare(ctx, j.Tasks)
	if err == nil && shouldSync {
		err = h.sync.PropagateBare(ctx, tx, pc.SearchPath, j.Command)
	}
	if err != nil {
		return coorderror.Wrap(coorderror.COORD_CONCURRENT_INDEX, errors.Wrap(err, "CONCURRENTLY-enabled index command failed")).
			WithDetail("CONCURRENTLY-enabled index commands can fail partially, leaving behind an INVALID index.").
			WithHint("Use DROP INDEX CONCURRENTLY IF EXISTS to remove the invalid index, then retry the original command.")
	}
	return nil
}
