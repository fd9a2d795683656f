package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

// MemDirectory is an in-memory Directory. Tests and embedded setups
// populate it through the Add* methods.
type MemDirectory struct {
	mu sync.RWMutex

	relations   map[RelationID]*Relation
	shards      map[RelationID][]ShardInterval
	placements  map[ShardID][]ShardPlacement
	foreignKeys []ForeignKey
	nodes       []WorkerNode
	committed   map[string]bool

	localGroupID    int32
	nextRelationID  RelationID
	nextShardID     ShardID
	nextPlacementID uint64
}

var _ Directory = &MemDirectory{}
var _ Distributor = &MemDirectory{}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		relations:       map[RelationID]*Relation{},
		shards:          map[RelationID][]ShardInterval{},
		placements:      map[ShardID][]ShardPlacement{},
		committed:       map[string]bool{},
		nextRelationID:  16384,
		nextShardID:     102008,
		nextPlacementID: 1,
	}
}

// AddRelation registers rel, assigning an id when rel.ID is zero.
func (d *MemDirectory) AddRelation(rel Relation) RelationID {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rel.ID == InvalidRelationID {
		rel.ID = d.nextRelationID
		d.nextRelationID++
	} else if rel.ID >= d.nextRelationID {
		d.nextRelationID = rel.ID + 1
	}
	if rel.Kind == 0 {
		rel.Kind = RelKindTable
	}
	if rel.Schema == "" {
		rel.Schema = "public"
	}
	r := rel
	d.relations[rel.ID] = &r
	return rel.ID
}

func (d *MemDirectory) DropRelation(id RelationID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sh := range d.shards[id] {
		delete(d.placements, sh.ShardID)
	}
	delete(d.shards, id)
	delete(d.relations, id)

	fks := d.foreignKeys[:0]
	for _, fk := range d.foreignKeys {
		if fk.Referencing != id && fk.Referenced != id {
			fks = append(fks, fk)
		}
	}
	d.foreignKeys = fks
}

func (d *MemDirectory) AddWorkerNode(node WorkerNode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if node.NodeID == 0 {
		node.NodeID = int32(len(d.nodes) + 1)
	}
	d.nodes = append(d.nodes, node)
}

func (d *MemDirectory) SetLocalGroupID(id int32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.localGroupID = id
}

// AddShard creates a shard of rel with one finalized placement per node.
func (d *MemDirectory) AddShard(rel RelationID, nodes ...WorkerNode) ShardID {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.addShardLocked(rel, nodes...)
}

func (d *MemDirectory) addShardLocked(rel RelationID, nodes ...WorkerNode) ShardID {
	id := d.nextShardID
	d.nextShardID++

	d.shards[rel] = append(d.shards[rel], ShardInterval{ShardID: id, RelationID: rel})
	for _, n := range nodes {
		d.placements[id] = append(d.placements[id], ShardPlacement{
			PlacementID: d.nextPlacementID,
			ShardID:     id,
			GroupID:     n.GroupID,
			NodeHost:    n.Host,
			NodePort:    n.Port,
			State:       PlacementFinalized,
		})
		d.nextPlacementID++
	}
	return id
}

// SetPlacementState changes the state of every placement of shard on node.
func (d *MemDirectory) SetPlacementState(shard ShardID, nodeKey string, state PlacementState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, p := range d.placements[shard] {
		if p.NodeKey() == nodeKey {
			d.placements[shard][i].State = state
		}
	}
}

func (d *MemDirectory) AddForeignKey(fk ForeignKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.foreignKeys = append(d.foreignKeys, fk)
}

func (d *MemDirectory) DropForeignKey(name string, referencing RelationID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	fks := d.foreignKeys[:0]
	for _, fk := range d.foreignKeys {
		if fk.Name != name || fk.Referencing != referencing {
			fks = append(fks, fk)
		}
	}
	d.foreignKeys = fks
}

func (d *MemDirectory) LookupRelation(_ context.Context, schema, name string, searchPath []string) (RelationID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.lookupLocked(schema, name, searchPath, func(r *Relation) bool {
		return r.Kind != RelKindIndex && r.Name == name
	})
}

func (d *MemDirectory) LookupIndex(_ context.Context, schema, name string, searchPath []string) (RelationID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.lookupLocked(schema, name, searchPath, func(r *Relation) bool {
		for _, idx := range r.Indexes {
			if idx.Name == name {
				return true
			}
		}
		return false
	})
}

func (d *MemDirectory) lookupLocked(schema, name string, searchPath []string, match func(r *Relation) bool) (RelationID, error) {
	bySchema := map[string][]RelationID{}
	for id, r := range d.relations {
		if match(r) {
			bySchema[r.Schema] = append(bySchema[r.Schema], id)
		}
	}
	if schema != "" {
		ids := bySchema[schema]
		if len(ids) == 0 {
			return InvalidRelationID, fmt.Errorf("%w: %s.%s", ErrRelationNotFound, schema, name)
		}
		return ids[0], nil
	}
	for _, s := range searchPath {
		if ids := bySchema[s]; len(ids) > 0 {
			return ids[0], nil
		}
	}
	if len(searchPath) == 0 {
		switch len(bySchema) {
		case 0:
		case 1:
			for _, ids := range bySchema {
				return ids[0], nil
			}
		default:
			return InvalidRelationID, fmt.Errorf("%w: %s", ErrAmbiguousName, name)
		}
	}
	return InvalidRelationID, fmt.Errorf("%w: %s", ErrRelationNotFound, name)
}

func (d *MemDirectory) Relation(_ context.Context, id RelationID) (*Relation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.relations[id]
	if !ok {
		return nil, fmt.Errorf("%w: oid %d", ErrRelationNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (d *MemDirectory) RelationsInSchema(_ context.Context, schema string) ([]RelationID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ret []RelationID
	for id, r := range d.relations {
		if r.Schema == schema {
			ret = append(ret, id)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}

func (d *MemDirectory) Partitions(_ context.Context, id RelationID) ([]RelationID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ret []RelationID
	for pid, r := range d.relations {
		if r.PartitionParent == id {
			ret = append(ret, pid)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}

func (d *MemDirectory) ShardIntervals(_ context.Context, id RelationID) ([]ShardInterval, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ret := append([]ShardInterval(nil), d.shards[id]...)
	sort.Slice(ret, func(i, j int) bool { return ret[i].ShardID < ret[j].ShardID })
	return ret, nil
}

func (d *MemDirectory) ActiveShardPlacements(_ context.Context, shard ShardID) ([]ShardPlacement, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ret []ShardPlacement
	for _, p := range d.placements[shard] {
		if p.State == PlacementFinalized {
			ret = append(ret, p)
		}
	}
	return ret, nil
}

func (d *MemDirectory) ForeignKeys(_ context.Context) ([]ForeignKey, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]ForeignKey(nil), d.foreignKeys...), nil
}

func (d *MemDirectory) ActivePrimaryNodes(_ context.Context) ([]WorkerNode, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ret []WorkerNode
	for _, n := range d.nodes {
		if n.IsActive {
			ret = append(ret, n)
		}
	}
	return ret, nil
}

func (d *MemDirectory) LocalGroupID(_ context.Context) (int32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.localGroupID, nil
}

// CreateDistributedTable distributes id with shards placed next to the
// shards of colocateWith.
func (d *MemDirectory) CreateDistributedTable(_ context.Context, id RelationID, column string, method DistributionMethod, colocateWith RelationID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rel, ok := d.relations[id]
	if !ok {
		return fmt.Errorf("%w: oid %d", ErrRelationNotFound, id)
	}
	parent, ok := d.relations[colocateWith]
	if !ok {
		return fmt.Errorf("%w: oid %d", ErrRelationNotFound, colocateWith)
	}

	coordlog.Zero.Debug().
		Uint32("relation", uint32(id)).
		Uint32("colocate-with", uint32(colocateWith)).
		Msg("memdirectory: create distributed table")

	rel.Distributed = true
	rel.Method = method
	rel.DistributionColumn = column
	rel.ColocationID = parent.ColocationID
	rel.ReplicationModel = parent.ReplicationModel
	rel.ReplicationFactor = parent.ReplicationFactor

	for _, sh := range d.shards[colocateWith] {
		var nodes []WorkerNode
		for _, p := range d.placements[sh.ShardID] {
			nodes = append(nodes, WorkerNode{GroupID: p.GroupID, Host: p.NodeHost, Port: p.NodePort})
		}
		d.addShardLocked(id, nodes...)
	}
	return nil
}
