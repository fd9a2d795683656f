package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

// Querier is the subset of pgxpool.Pool used by PgDirectory.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PgDirectory reads the pg_dist_* metadata tables of the coordinator node.
type PgDirectory struct {
	q Querier
}

var _ Directory = &PgDirectory{}
var _ Distributor = &PgDirectory{}

func NewPgDirectory(q Querier) *PgDirectory {
	return &PgDirectory{q: q}
}

// ConnectPgDirectory opens a pool against the coordinator's own database.
func ConnectPgDirectory(ctx context.Context, dsn string) (*PgDirectory, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to catalog")
	}
	return NewPgDirectory(pool), pool, nil
}

func collectIDs(rows pgx.Rows) ([]RelationID, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RelationID, error) {
		var id uint32
		err := row.Scan(&id)
		return RelationID(id), err
	})
}

func (d *PgDirectory) lookup(ctx context.Context, qualified, anySchema string, schema, name string, searchPath []string) (RelationID, error) {
	if schema != "" {
		return d.lookupInSchema(ctx, qualified, schema, name)
	}
	for _, s := range searchPath {
		id, err := d.lookupInSchema(ctx, qualified, s, name)
		if errors.Is(err, ErrRelationNotFound) {
			continue
		}
		return id, err
	}
	if len(searchPath) != 0 {
		return InvalidRelationID, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	}
	rows, err := d.q.Query(ctx, anySchema, name)
	if err != nil {
		return InvalidRelationID, err
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return InvalidRelationID, err
	}
	switch len(ids) {
	case 0:
		return InvalidRelationID, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
	case 1:
		return ids[0], nil
	default:
		return InvalidRelationID, fmt.Errorf("%w: %s", ErrAmbiguousName, name)
	}
}

func (d *PgDirectory) lookupInSchema(ctx context.Context, query string, schema, name string) (RelationID, error) {
	var id uint32
	err := d.q.QueryRow(ctx, query, schema, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvalidRelationID, fmt.Errorf("%w: %s.%s", ErrRelationNotFound, schema, name)
	}
	if err != nil {
		return InvalidRelationID, err
	}
	return RelationID(id), nil
}

func (d *PgDirectory) LookupRelation(ctx context.Context, schema, name string, searchPath []string) (RelationID, error) {
	return d.lookup(ctx, queryRelationInSchema, queryRelationAnySchema, schema, name, searchPath)
}

func (d *PgDirectory) LookupIndex(ctx context.Context, schema, name string, searchPath []string) (RelationID, error) {
	return d.lookup(ctx, queryIndexInSchema, queryIndexAnySchema, schema, name, searchPath)
}

func (d *PgDirectory) Relation(ctx context.Context, id RelationID) (*Relation, error) {
	var (
		oid         uint32
		relkind     string
		method      string
		repmodel    string
		colocation  int64
		parent      uint32
		distributed bool
	)
	rel := &Relation{}
	err := d.q.QueryRow(ctx, queryRelation, uint32(id)).Scan(
		&oid, &rel.Schema, &rel.Name, &relkind,
		&distributed, &method, &rel.DistributionColumn, &colocation, &repmodel, &parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: oid %d", ErrRelationNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read relation %d", id)
	}
	rel.ID = RelationID(oid)
	rel.Distributed = distributed
	rel.ColocationID = uint32(colocation)
	rel.PartitionParent = RelationID(parent)
	if relkind != "" {
		rel.Kind = RelationKind(relkind[0])
	}
	if method != "" {
		rel.Method = DistributionMethod(method[0])
	}
	if repmodel != "" {
		rel.ReplicationModel = ReplicationModel(repmodel[0])
	}

	if rel.Distributed {
		var factor int64
		if err := d.q.QueryRow(ctx, queryReplicationFactor, uint32(id)).Scan(&factor); err != nil {
			return nil, errors.Wrapf(err, "failed to read replication factor of %d", id)
		}
		rel.ReplicationFactor = int(factor)
	}

	rows, err := d.q.Query(ctx, queryIndexes, uint32(id))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read indexes of %d", id)
	}
	rel.Indexes, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Index, error) {
		var idx Index
		err := row.Scan(&idx.Name, &idx.Unique, &idx.Exclusion, &idx.Columns, &idx.ExclusionEquality)
		return idx, err
	})
	if err != nil {
		return nil, err
	}

	return rel, nil
}

func (d *PgDirectory) RelationsInSchema(ctx context.Context, schema string) ([]RelationID, error) {
	rows, err := d.q.Query(ctx, queryRelationsInSchema, schema)
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (d *PgDirectory) Partitions(ctx context.Context, id RelationID) ([]RelationID, error) {
	rows, err := d.q.Query(ctx, queryPartitions, uint32(id))
	if err != nil {
		return nil, err
	}
	return collectIDs(rows)
}

func (d *PgDirectory) ShardIntervals(ctx context.Context, id RelationID) ([]ShardInterval, error) {
	rows, err := d.q.Query(ctx, queryShardIntervals, uint32(id))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ShardInterval, error) {
		var (
			sh      ShardInterval
			shardID int64
		)
		err := row.Scan(&shardID, &sh.MinValue, &sh.MaxValue)
		sh.ShardID = ShardID(shardID)
		sh.RelationID = id
		return sh, err
	})
}

func (d *PgDirectory) ActiveShardPlacements(ctx context.Context, shard ShardID) ([]ShardPlacement, error) {
	rows, err := d.q.Query(ctx, queryActivePlacements, int64(shard))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ShardPlacement, error) {
		var (
			p                ShardPlacement
			placementID, sid int64
			port, state      int32
		)
		err := row.Scan(&placementID, &sid, &p.GroupID, &p.NodeHost, &port, &state)
		p.PlacementID = uint64(placementID)
		p.ShardID = ShardID(sid)
		p.NodePort = int(port)
		p.State = PlacementState(state)
		return p, err
	})
}

func (d *PgDirectory) ForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	rows, err := d.q.Query(ctx, queryForeignKeys)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ForeignKey, error) {
		var (
			fk                      ForeignKey
			referencing, referenced uint32
		)
		err := row.Scan(&fk.Name, &referencing, &referenced, &fk.ReferencingColumns, &fk.ReferencedColumns)
		fk.Referencing = RelationID(referencing)
		fk.Referenced = RelationID(referenced)
		return fk, err
	})
}

func (d *PgDirectory) ActivePrimaryNodes(ctx context.Context) ([]WorkerNode, error) {
	rows, err := d.q.Query(ctx, queryActivePrimaryNodes)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (WorkerNode, error) {
		var (
			n    WorkerNode
			port int32
		)
		err := row.Scan(&n.NodeID, &n.GroupID, &n.Host, &port, &n.HasMetadata, &n.IsActive)
		n.Port = int(port)
		return n, err
	})
}

func (d *PgDirectory) LocalGroupID(ctx context.Context) (int32, error) {
	var id int32
	if err := d.q.QueryRow(ctx, queryLocalGroupID).Scan(&id); err != nil {
		return 0, errors.Wrap(err, "failed to read local group id")
	}
	return id, nil
}

func (d *PgDirectory) CreateDistributedTable(ctx context.Context, id RelationID, column string, method DistributionMethod, colocateWith RelationID) error {
	parent, err := d.Relation(ctx, colocateWith)
	if err != nil {
		return err
	}
	methodName := "hash"
	switch method {
	case DistributeByRange:
		methodName = "range"
	case DistributeByAppend:
		methodName = "append"
	}
	coordlog.Zero.Debug().
		Uint32("relation", uint32(id)).
		Str("colocate-with", parent.Schema+"."+parent.Name).
		Msg("pgdirectory: create distributed table")

	_, err = d.q.Exec(ctx, queryCreateDistributedTable,
		uint32(id), column, methodName, pgx.Identifier{parent.Schema, parent.Name}.Sanitize())
	return err
}
