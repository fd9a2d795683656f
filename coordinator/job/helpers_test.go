package job_test

import (
	"context"
	"testing"

	"go.uber.org/mock/gomock"

	"github.com/pg-sharding/ddlcoord/coordinator/execmode"
	"github.com/pg-sharding/ddlcoord/coordinator/fkgraph"
	"github.com/pg-sharding/ddlcoord/coordinator/job"
	"github.com/pg-sharding/ddlcoord/coordinator/metasync"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	mock_job "github.com/pg-sharding/ddlcoord/pkg/mock/job"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

var (
	wn1 = catalog.WorkerNode{GroupID: 1, Host: "w1", Port: 5432, IsActive: true}
	wn2 = catalog.WorkerNode{GroupID: 2, Host: "w2", Port: 5432, IsActive: true}

	// the same workers holding synced metadata
	mx1 = catalog.WorkerNode{GroupID: 1, Host: "w1", Port: 5432, IsActive: true, HasMetadata: true}
	mx2 = catalog.WorkerNode{GroupID: 2, Host: "w2", Port: 5432, IsActive: true, HasMetadata: true}
)

type env struct {
	dir   *catalog.MemDirectory
	graph *fkgraph.Graph
	tx    *mock_job.MockTx
	state *execmode.State
	pc    *job.PlanContext
}

// newEnv builds a catalog with the given workers, w1 and w2 by default.
func newEnv(t *testing.T, nodes ...catalog.WorkerNode) *env {
	t.Helper()

	if len(nodes) == 0 {
		nodes = []catalog.WorkerNode{wn1, wn2}
	}

	ctrl := gomock.NewController(t)
	dir := catalog.NewMemDirectory()
	for _, n := range nodes {
		dir.AddWorkerNode(n)
	}

	graph := fkgraph.New(dir)
	state := execmode.NewState(execmode.Parallel)

	tx := mock_job.NewMockTx(ctrl)
	tx.EXPECT().ExecutionMode().Return(state).AnyTimes()
	tx.EXPECT().InTransactionBlock().Return(false).AnyTimes()

	return &env{
		dir:   dir,
		graph: graph,
		tx:    tx,
		state: state,
		pc: &job.PlanContext{
			Dir:                  dir,
			Distributor:          dir,
			Graph:                graph,
			Policy:               execmode.NewPolicy(dir, graph),
			Builder:              job.NewBuilder(dir),
			Sync:                 metasync.NewBroadcaster(dir, true),
			Tx:                   tx,
			SearchPath:           []string{"public"},
			CurrentUser:          "alice",
			SessionUser:          "bob",
			EnableDDLPropagation: true,
		},
	}
}

// hashTable adds a hash distributed table on column a with shards spread
// over both workers.
func (e *env) hashTable(name string, colocation uint32, shards int) *catalog.Relation {
	return e.distributed(catalog.Relation{
		Name:               name,
		Distributed:        true,
		Method:             catalog.DistributeByHash,
		DistributionColumn: "a",
		ColocationID:       colocation,
		ReplicationModel:   catalog.ReplicationModelStreaming,
		ReplicationFactor:  1,
	}, shards)
}

func (e *env) appendTable(name string, shards int) *catalog.Relation {
	return e.distributed(catalog.Relation{
		Name:               name,
		Distributed:        true,
		Method:             catalog.DistributeByAppend,
		DistributionColumn: "a",
		ReplicationModel:   catalog.ReplicationModelCoordinator,
		ReplicationFactor:  1,
	}, shards)
}

// referenceTable has one shard placed on every worker.
func (e *env) referenceTable(name string) *catalog.Relation {
	id := e.dir.AddRelation(catalog.Relation{
		Name:              name,
		Distributed:       true,
		Method:            catalog.DistributeByNone,
		ColocationID:      1000,
		ReplicationModel:  catalog.ReplicationModel2PC,
		ReplicationFactor: 2,
	})
	e.dir.AddShard(id, wn1, wn2)
	return e.relation(id)
}

func (e *env) localTable(name string) *catalog.Relation {
	return e.relation(e.dir.AddRelation(catalog.Relation{Name: name}))
}

func (e *env) distributed(rel catalog.Relation, shards int) *catalog.Relation {
	id := e.dir.AddRelation(rel)
	for i := 0; i < shards; i++ {
		node := wn1
		if i%2 == 1 {
			node = wn2
		}
		e.dir.AddShard(id, node)
	}
	return e.relation(id)
}

func (e *env) relation(id catalog.RelationID) *catalog.Relation {
	rel, err := e.dir.Relation(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return rel
}

func (e *env) shards(rel *catalog.Relation) []catalog.ShardInterval {
	shards, err := e.dir.ShardIntervals(context.Background(), rel.ID)
	if err != nil {
		panic(err)
	}
	return shards
}

func (e *env) plan(node stmt.Node, command string) ([]*job.DDLJob, error) {
	p, ok := job.NewRegistry().For(node.Kind())
	if !ok {
		return nil, nil
	}
	return p.Plan(context.Background(), e.pc, node, command)
}

func (e *env) postLocal(node stmt.Node, jobs []*job.DDLJob) error {
	p, _ := job.NewRegistry().For(node.Kind())
	post, ok := p.(job.PostLocalPlanner)
	if !ok {
		return nil
	}
	return post.PostLocal(context.Background(), e.pc, node, jobs)
}

func table(name string) stmt.RangeVar {
	return stmt.RangeVar{Name: name}
}

func tableRef(name string) *stmt.RangeVar {
	return &stmt.RangeVar{Name: name}
}
