package fkgraph_test

import (
	"context"
	"testing"

	"github.com/pg-sharding/ddlcoord/coordinator/fkgraph"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/stretchr/testify/assert"
)

type fixture struct {
	dir    *catalog.MemDirectory
	ref    catalog.RelationID
	orders catalog.RelationID
	items  catalog.RelationID
	local  catalog.RelationID
}

func newFixture() *fixture {
	dir := catalog.NewMemDirectory()
	f := &fixture{dir: dir}
	f.ref = dir.AddRelation(catalog.Relation{Name: "countries", Distributed: true, Method: catalog.DistributeByNone})
	f.orders = dir.AddRelation(catalog.Relation{Name: "orders", Distributed: true, Method: catalog.DistributeByHash, DistributionColumn: "id", ColocationID: 1})
	f.items = dir.AddRelation(catalog.Relation{Name: "items", Distributed: true, Method: catalog.DistributeByHash, DistributionColumn: "order_id", ColocationID: 1})
	f.local = dir.AddRelation(catalog.Relation{Name: "scratch"})

	dir.AddForeignKey(catalog.ForeignKey{
		Name:               "orders_country_fkey",
		Referencing:        f.orders,
		Referenced:         f.ref,
		ReferencingColumns: []string{"country"},
		ReferencedColumns:  []string{"code"},
	})
	dir.AddForeignKey(catalog.ForeignKey{
		Name:               "items_order_fkey",
		Referencing:        f.items,
		Referenced:         f.orders,
		ReferencingColumns: []string{"order_id"},
		ReferencedColumns:  []string{"id"},
	})
	return f
}

func TestGraphQueries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	g := fkgraph.New(f.dir)

	ok, err := g.TableReferenced(ctx, f.ref)
	assert.NoError(err)
	assert.True(ok)

	ok, err = g.TableReferencing(ctx, f.ref)
	assert.NoError(err)
	assert.False(ok)

	ok, err = g.TableReferencing(ctx, f.items)
	assert.NoError(err)
	assert.True(ok)

	ok, err = g.TableReferenced(ctx, f.local)
	assert.NoError(err)
	assert.False(ok)

	ok, err = g.ConstraintIsAForeignKey(ctx, "items_order_fkey", f.items)
	assert.NoError(err)
	assert.True(ok)

	ok, err = g.ConstraintIsAForeignKeyToReferenceTable(ctx, "items_order_fkey", f.items)
	assert.NoError(err)
	assert.False(ok)

	ok, err = g.ConstraintIsAForeignKeyToReferenceTable(ctx, "orders_country_fkey", f.orders)
	assert.NoError(err)
	assert.True(ok)

	ok, err = g.ColumnAppearsInForeignKeyToReferenceTable(ctx, "country", f.orders)
	assert.NoError(err)
	assert.True(ok)

	ok, err = g.ColumnAppearsInForeignKeyToReferenceTable(ctx, "code", f.ref)
	assert.NoError(err)
	assert.True(ok)

	ok, err = g.ColumnAppearsInForeignKeyToReferenceTable(ctx, "id", f.orders)
	assert.NoError(err)
	assert.False(ok)

	ok, err = g.HasForeignKeyToReferenceTable(ctx, f.orders)
	assert.NoError(err)
	assert.True(ok)
}

func TestReferencingRelationsTransitive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	g := fkgraph.New(f.dir)

	rels, err := g.ReferencingRelations(ctx, f.ref)
	assert.NoError(err)
	assert.Equal([]catalog.RelationID{f.orders, f.items}, rels)

	rels, err = g.ReferencingRelations(ctx, f.items)
	assert.NoError(err)
	assert.Empty(rels)
}

func TestGraphStaleUntilInvalidated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.TODO()
	f := newFixture()
	g := fkgraph.New(f.dir)

	ok, err := g.TableReferencing(ctx, f.items)
	assert.NoError(err)
	assert.True(ok)

	f.dir.DropForeignKey("items_order_fkey", f.items)

	ok, err = g.TableReferencing(ctx, f.items)
	assert.NoError(err)
	assert.True(ok)

	before := g.Epoch()
	g.Invalidate()
	assert.Equal(before+1, g.Epoch())

	ok, err = g.TableReferencing(ctx, f.items)
	assert.NoError(err)
	assert.False(ok)
}
