// Package catalog is the coordinator's read view of distributed relations,
// their shards and placements, worker nodes and foreign keys.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

type RelationID uint32

type ShardID uint64

const InvalidRelationID RelationID = 0

// CoordinatorGroupID is the group of the node that owns distributed DDL.
const CoordinatorGroupID int32 = 0

var (
	ErrRelationNotFound = errors.New("relation does not exist")
	ErrAmbiguousName    = errors.New("relation name is ambiguous")
)

type DistributionMethod byte

const (
	DistributeByHash   DistributionMethod = 'h'
	DistributeByRange  DistributionMethod = 'r'
	DistributeByAppend DistributionMethod = 'a'
	DistributeByNone   DistributionMethod = 'n'
)

type ReplicationModel byte

const (
	ReplicationModelCoordinator ReplicationModel = 'c'
	ReplicationModelStreaming   ReplicationModel = 's'
	ReplicationModel2PC         ReplicationModel = 't'
)

type RelationKind byte

const (
	RelKindTable       RelationKind = 'r'
	RelKindPartitioned RelationKind = 'p'
	RelKindForeign     RelationKind = 'f'
	RelKindIndex       RelationKind = 'i'
)

type PlacementState int

const (
	PlacementFinalized PlacementState = 1
	PlacementInactive  PlacementState = 3
	PlacementToDelete  PlacementState = 4
)

type Index struct {
	Name      string
	Columns   []string
	Unique    bool
	Exclusion bool
	// ExclusionEquality[i] reports whether the operator on Columns[i] is equality.
	ExclusionEquality []bool
}

type Relation struct {
	ID     RelationID
	Schema string
	Name   string
	Kind   RelationKind

	Distributed        bool
	Method             DistributionMethod
	DistributionColumn string
	ColocationID       uint32
	ReplicationModel   ReplicationModel
	ReplicationFactor  int

	// PartitionParent is set when the relation is a partition.
	PartitionParent RelationID
	Indexes         []Index
}

func (r *Relation) IsReferenceTable() bool {
	return r.Distributed && r.Method == DistributeByNone
}

// IsHashOrRange reports a distributed relation that enforces uniqueness per shard.
func (r *Relation) IsHashOrRange() bool {
	return r.Distributed && (r.Method == DistributeByHash || r.Method == DistributeByRange)
}

func (r *Relation) IsPartitioned() bool {
	return r.Kind == RelKindPartitioned
}

func (r *Relation) IsPartition() bool {
	return r.PartitionParent != InvalidRelationID
}

// ShouldSyncMetadata reports whether workers with metadata keep a copy of
// this relation's catalog entry.
func (r *Relation) ShouldSyncMetadata() bool {
	if !r.Distributed {
		return false
	}
	if r.Method == DistributeByNone {
		return true
	}
	return r.Method == DistributeByHash && r.ReplicationModel == ReplicationModelStreaming
}

type ShardInterval struct {
	ShardID    ShardID
	RelationID RelationID
	MinValue   string
	MaxValue   string
}

type ShardPlacement struct {
	PlacementID uint64
	ShardID     ShardID
	GroupID     int32
	NodeHost    string
	NodePort    int
	State       PlacementState
}

func (p ShardPlacement) NodeKey() string {
	return NodeKey(p.NodeHost, p.NodePort)
}

type WorkerNode struct {
	NodeID      int32
	GroupID     int32
	Host        string
	Port        int
	HasMetadata bool
	IsActive    bool
}

func (n WorkerNode) NodeKey() string {
	return NodeKey(n.Host, n.Port)
}

func NodeKey(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// SortWorkerNodes orders nodes by group, host and port.
func SortWorkerNodes(nodes []WorkerNode) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].GroupID != nodes[j].GroupID {
			return nodes[i].GroupID < nodes[j].GroupID
		}
		if nodes[i].Host != nodes[j].Host {
			return nodes[i].Host < nodes[j].Host
		}
		return nodes[i].Port < nodes[j].Port
	})
}

type ForeignKey struct {
	Name               string
	Referencing        RelationID
	Referenced         RelationID
	ReferencingColumns []string
	ReferencedColumns  []string
}

// Directory is consulted by planners; implementations must be safe for
// concurrent readers.
type Directory interface {
	// LookupRelation resolves a possibly unqualified name; an empty schema
	// walks searchPath in order.
	LookupRelation(ctx context.Context, schema, name string, searchPath []string) (RelationID, error)
	// LookupIndex resolves an index name to the relation it belongs to.
	LookupIndex(ctx context.Context, schema, name string, searchPath []string) (RelationID, error)
	Relation(ctx context.Context, id RelationID) (*Relation, error)
	RelationsInSchema(ctx context.Context, schema string) ([]RelationID, error)
	Partitions(ctx context.Context, id RelationID) ([]RelationID, error)

	// ShardIntervals returns the shards of id sorted by shard id.
	ShardIntervals(ctx context.Context, id RelationID) ([]ShardInterval, error)
	ActiveShardPlacements(ctx context.Context, shard ShardID) ([]ShardPlacement, error)

	ForeignKeys(ctx context.Context) ([]ForeignKey, error)
	ActivePrimaryNodes(ctx context.Context) ([]WorkerNode, error)
	LocalGroupID(ctx context.Context) (int32, error)
}

// Distributor turns a local relation into a distributed one colocated with
// an existing relation.
type Distributor interface {
	CreateDistributedTable(ctx context.Context, id RelationID, column string, method DistributionMethod, colocateWith RelationID) error
}

// IsDistributed is a convenience wrapper that treats unknown relations as
// local ones.
func IsDistributed(ctx context.Context, dir Directory, id RelationID) (bool, error) {
	if id == InvalidRelationID {
		return false, nil
	}
	rel, err := dir.Relation(ctx, id)
	if errors.Is(err, ErrRelationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rel.Distributed, nil
}

// TablesColocated reports whether two distributed relations share a
// colocation group.
func TablesColocated(left, right *Relation) bool {
	if left.ID == right.ID {
		return true
	}
	if left.ColocationID == 0 || right.ColocationID == 0 {
		return false
	}
	return left.ColocationID == right.ColocationID
}
