// Package fkgraph caches the foreign key graph between relations. The cache
// is versioned by an epoch: writers bump it, readers rebuild on mismatch.
package fkgraph

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"go.uber.org/atomic"
)

type Graph struct {
	dir   catalog.Directory
	epoch atomic.Uint64

	mu          sync.Mutex
	loaded      bool
	loadedEpoch uint64
	referencing map[catalog.RelationID][]catalog.ForeignKey
	referenced  map[catalog.RelationID][]catalog.ForeignKey
	reference   map[catalog.RelationID]bool
}

func New(dir catalog.Directory) *Graph {
	return &Graph{dir: dir}
}

// Invalidate marks every cached view stale.
func (g *Graph) Invalidate() {
	e := g.epoch.Inc()
	coordlog.Zero.Debug().Uint64("epoch", e).Msg("fkgraph: invalidated")
}

func (g *Graph) Epoch() uint64 {
	return g.epoch.Load()
}

type snapshot struct {
	referencing map[catalog.RelationID][]catalog.ForeignKey
	referenced  map[catalog.RelationID][]catalog.ForeignKey
	reference   map[catalog.RelationID]bool
}

func (g *Graph) load(ctx context.Context) (*snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	current := g.epoch.Load()
	if g.loaded && g.loadedEpoch == current {
		return &snapshot{g.referencing, g.referenced, g.reference}, nil
	}

	fks, err := g.dir.ForeignKeys(ctx)
	if err != nil {
		return nil, err
	}
	referencing := map[catalog.RelationID][]catalog.ForeignKey{}
	referenced := map[catalog.RelationID][]catalog.ForeignKey{}
	reference := map[catalog.RelationID]bool{}
	for _, fk := range fks {
		referencing[fk.Referencing] = append(referencing[fk.Referencing], fk)
		referenced[fk.Referenced] = append(referenced[fk.Referenced], fk)
		for _, id := range []catalog.RelationID{fk.Referencing, fk.Referenced} {
			if _, ok := reference[id]; ok {
				continue
			}
			rel, err := g.dir.Relation(ctx, id)
			switch {
			case err == nil:
				reference[id] = rel.IsReferenceTable()
			case errors.Is(err, catalog.ErrRelationNotFound):
				reference[id] = false
			default:
				return nil, err
			}
		}
	}

	g.referencing, g.referenced, g.reference = referencing, referenced, reference
	g.loaded, g.loadedEpoch = true, current

	coordlog.Zero.Debug().
		Uint64("epoch", current).
		Int("foreign keys", len(fks)).
		Msg("fkgraph: rebuilt")

	return &snapshot{referencing, referenced, reference}, nil
}

// TableReferenced reports whether some foreign key points at id.
func (g *Graph) TableReferenced(ctx context.Context, id catalog.RelationID) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	return len(s.referenced[id]) > 0, nil
}

// TableReferencing reports whether id has a foreign key to some relation.
func (g *Graph) TableReferencing(ctx context.Context, id catalog.RelationID) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	return len(s.referencing[id]) > 0, nil
}

// ReferencingRelations returns every relation that reaches id through
// foreign keys, sorted by id. id itself is not included.
func (g *Graph) ReferencingRelations(ctx context.Context, id catalog.RelationID) ([]catalog.RelationID, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[catalog.RelationID]bool{id: true}
	queue := []catalog.RelationID{id}
	var ret []catalog.RelationID
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, fk := range s.referenced[cur] {
			if seen[fk.Referencing] {
				continue
			}
			seen[fk.Referencing] = true
			ret = append(ret, fk.Referencing)
			queue = append(queue, fk.Referencing)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret, nil
}

// ForeignKeysOf returns the foreign keys defined on id.
func (g *Graph) ForeignKeysOf(ctx context.Context, id catalog.RelationID) ([]catalog.ForeignKey, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.referencing[id]), nil
}

func (g *Graph) findConstraint(s *snapshot, name string, id catalog.RelationID) (catalog.ForeignKey, bool) {
	for _, fk := range s.referencing[id] {
		if fk.Name == name {
			return fk, true
		}
	}
	return catalog.ForeignKey{}, false
}

func (g *Graph) ConstraintIsAForeignKey(ctx context.Context, name string, id catalog.RelationID) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	_, ok := g.findConstraint(s, name, id)
	return ok, nil
}

func (g *Graph) ConstraintIsAForeignKeyToReferenceTable(ctx context.Context, name string, id catalog.RelationID) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	fk, ok := g.findConstraint(s, name, id)
	return ok && s.reference[fk.Referenced], nil
}

// ColumnAppearsInForeignKeyToReferenceTable reports whether column of id
// takes part in a foreign key whose referenced side is a reference table.
func (g *Graph) ColumnAppearsInForeignKeyToReferenceTable(ctx context.Context, column string, id catalog.RelationID) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	for _, fk := range s.referencing[id] {
		if s.reference[fk.Referenced] && slices.Contains(fk.ReferencingColumns, column) {
			return true, nil
		}
	}
	if s.reference[id] {
		for _, fk := range s.referenced[id] {
			if slices.Contains(fk.ReferencedColumns, column) {
				return true, nil
			}
		}
	}
	return false, nil
}

// HasForeignKeyToReferenceTable reports whether id references a reference table.
func (g *Graph) HasForeignKeyToReferenceTable(ctx context.Context, id catalog.RelationID) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	for _, fk := range s.referencing[id] {
		if s.reference[fk.Referenced] {
			return true, nil
		}
	}
	return false, nil
}
