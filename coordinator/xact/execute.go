package xact

import (
	"context"
	"errors"
	"sync"

	"github.com/opentracing/opentracing-go"
	"golang.org/x/sync/errgroup"

	"github.com/pg-sharding/ddlcoord/coordinator/job"
	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExecuteTasks runs tasks inside the coordinated transaction. Any failure
// rolls back every participant and marks the transaction failed.
func (tx *TxContext) ExecuteTasks(ctx context.Context, tasks []*job.Task, sequential bool) error {
	if err := tx.checkUsable(); err != nil {
		return err
	}
	if len(tasks) == 0 {
		return nil
	}

	span := opentracing.StartSpan("execute tasks")
	defer span.Finish()
	span.SetTag("tx", tx.id)
	span.SetTag("tasks", len(tasks))
	span.SetTag("sequential", sequential)

	if err := tx.ensureOwnership(ctx); err != nil {
		return err
	}

	var err error
	if sequential {
		err = tx.executeSequential(ctx, tasks)
	} else {
		err = tx.executeParallel(ctx, tasks)
	}
	if err != nil {
		span.SetTag("error", true)
		tx.fail(ctx)
		return err
	}
	return nil
}

func (tx *TxContext) placementConn(p catalog.ShardPlacement) *remoteConn {
	if rc, ok := tx.affinity[p.PlacementID]; ok && !rc.broken {
		return rc
	}
	return nil
}

func (tx *TxContext) executeSequential(ctx context.Context, tasks []*job.Task) error {
	for _, t := range tasks {
		for _, p := range t.Placements {
			rc := tx.placementConn(p)
			if rc == nil {
				rc = tx.nodeConn(conn.TargetFromPlacement(p))
			}
			if err := tx.runTransactional(ctx, rc, t.Query); err != nil {
				return remoteError([]nodeError{{node: rc.target.NodeKey(), err: err}})
			}
			tx.affinity[p.PlacementID] = rc
		}
	}
	return nil
}

// executeParallel queues the tasks of each node on that node's connection
// and runs the queues concurrently.
func (tx *TxContext) executeParallel(ctx context.Context, tasks []*job.Task) error {
	queues := map[*remoteConn][]string{}
	var order []*remoteConn

	for _, t := range tasks {
		for _, p := range t.Placements {
			rc := tx.placementConn(p)
			if rc == nil {
				rc = tx.nodeConn(conn.TargetFromPlacement(p))
			}
			if _, ok := queues[rc]; !ok {
				order = append(order, rc)
			}
			queues[rc] = append(queues[rc], t.Query)
			tx.affinity[p.PlacementID] = rc
		}
	}

	var mu sync.Mutex
	var failures []nodeError

	g, gctx := errgroup.WithContext(ctx)
	for _, rc := range order {
		queries := queues[rc]
		g.Go(func() error {
			for _, q := range queries {
				if err := tx.runTransactional(gctx, rc, q); err != nil {
					if !isCancellation(err) {
						mu.Lock()
						failures = append(failures, nodeError{node: rc.target.NodeKey(), err: err})
						mu.Unlock()
					}
					return err
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if len(failures) == 0 {
			failures = append(failures, nodeError{node: "coordinator", err: err})
		}
		if ctx.Err() != nil {
			return coorderror.Wrap(coorderror.COORD_REMOTE_EXECUTION, ctx.Err()).
				WithDetail("canceling statement due to user request")
		}
		return remoteError(failures)
	}

	if len(tasks) > 1 {
		tx.mode.MarkParallelExecuted()
	}
	return nil
}

// ExecuteTasksBare runs tasks one by one outside the coordinated
// transaction over dedicated connections. Work done before a failure stays.
func (tx *TxContext) ExecuteTasksBare(ctx context.Context, tasks []*job.Task) error {
	if err := tx.checkUsable(); err != nil {
		return err
	}

	span := opentracing.StartSpan("execute bare tasks")
	defer span.Finish()
	span.SetTag("tx", tx.id)
	span.SetTag("tasks", len(tasks))

	conns := map[string]*remoteConn{}
	defer tx.closeBare(conns)

	for _, t := range tasks {
		for _, p := range t.Placements {
			target := conn.TargetFromPlacement(p)
			rc, err := tx.bareConn(ctx, conns, target)
			if err == nil {
				err = tx.exec(ctx, rc, t.Query)
			}
			if err != nil {
				span.SetTag("error", true)
				return remoteError([]nodeError{{node: target.NodeKey(), err: err}})
			}
		}
	}
	return nil
}

// SendBareCommandsToNodes runs commands on every target in order, each
// command committing on its own.
func (tx *TxContext) SendBareCommandsToNodes(ctx context.Context, targets []conn.Target, commands []string) error {
	if err := tx.checkUsable(); err != nil {
		return err
	}

	conns := map[string]*remoteConn{}
	defer tx.closeBare(conns)

	for _, target := range targets {
		rc, err := tx.bareConn(ctx, conns, target)
		if err != nil {
			return remoteError([]nodeError{{node: target.NodeKey(), err: err}})
		}
		for _, c := range commands {
			if err := tx.exec(ctx, rc, c); err != nil {
				return remoteError([]nodeError{{node: target.NodeKey(), err: err}})
			}
		}
	}
	return nil
}

func (tx *TxContext) bareConn(ctx context.Context, conns map[string]*remoteConn, target conn.Target) (*remoteConn, error) {
	if rc, ok := conns[target.NodeKey()]; ok && !rc.broken {
		return rc, nil
	}
	rc := &remoteConn{target: target}
	conns[target.NodeKey()] = rc
	if err := tx.open(ctx, rc); err != nil {
		return nil, err
	}
	return rc, nil
}

func (tx *TxContext) closeBare(conns map[string]*remoteConn) {
	for _, rc := range conns {
		if rc.c == nil || rc.broken {
			continue
		}
		rc.broken = true
		if err := rc.c.Close(context.Background()); err != nil {
			coordlog.Zero.Error().Err(err).Str("node", rc.target.NodeKey()).Msg("failed to close connection")
		}
		statistics.ConnectionClosed()
	}
}

// SendCommandsToNodes runs commands on every target in order inside the
// coordinated transaction, reusing the first connection to each node.
func (tx *TxContext) SendCommandsToNodes(ctx context.Context, targets []conn.Target, commands []string) error {
	if err := tx.checkUsable(); err != nil {
		return err
	}
	if len(targets) == 0 || len(commands) == 0 {
		return nil
	}
	if err := tx.ensureOwnership(ctx); err != nil {
		return err
	}

	for _, target := range targets {
		rc := tx.nodeConn(target)
		for _, c := range commands {
			if err := tx.runTransactional(ctx, rc, c); err != nil {
				tx.fail(ctx)
				return remoteError([]nodeError{{node: target.NodeKey(), err: err}})
			}
		}
	}
	return nil
}

// AcquireDistributedLocks sends lock commands to nodes ordered by group,
// host and port. Nodes of localGroup are skipped.
func (tx *TxContext) AcquireDistributedLocks(ctx context.Context, nodes []catalog.WorkerNode, localGroup int32, lockCommands []string) error {
	sorted := make([]catalog.WorkerNode, len(nodes))
	copy(sorted, nodes)
	catalog.SortWorkerNodes(sorted)

	targets := make([]conn.Target, 0, len(sorted))
	for _, n := range sorted {
		if n.GroupID == localGroup {
			continue
		}
		targets = append(targets, conn.TargetFromNode(n))
	}
	return tx.SendCommandsToNodes(ctx, targets, lockCommands)
}
