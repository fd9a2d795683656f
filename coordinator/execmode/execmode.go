// Package execmode decides whether multi-shard work runs over one connection
// per node or fans out in parallel.
package execmode

import (
	"context"
	"errors"

	"github.com/pg-sharding/ddlcoord/coordinator/fkgraph"
	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

type Mode int

const (
	Parallel Mode = iota
	Sequential
)

func (m Mode) String() string {
	switch m {
	case Parallel:
		return config.ModifyModeParallel
	case Sequential:
		return config.ModifyModeSequential
	}
	return "unknown"
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case config.ModifyModeParallel, "":
		return Parallel, nil
	case config.ModifyModeSequential:
		return Sequential, nil
	}
	return Parallel, coorderror.Newf(coorderror.COORD_INVALID_CONFIG, "unknown multi-shard modify mode %q", s)
}

// State belongs to one coordinated transaction. Once sequential it stays
// sequential until the transaction ends.
type State struct {
	mode             Mode
	parallelExecuted bool
}

func NewState(initial Mode) *State {
	return &State{mode: initial}
}

func (s *State) Mode() Mode {
	return s.mode
}

func (s *State) SwitchToSequential() {
	if s.mode == Sequential {
		return
	}
	s.mode = Sequential
	statistics.RecordEscalation()
	coordlog.Zero.Debug().Msg("switching to sequential query execution mode")
}

func (s *State) MarkParallelExecuted() {
	s.parallelExecuted = true
}

// ParallelExecuted reports whether any multi-connection work already ran in
// the transaction. It is not tracked per relation.
func (s *State) ParallelExecuted() bool {
	return s.parallelExecuted
}

// ShouldExecuteSequentially combines a job's own decision with the
// transaction mode.
func (s *State) ShouldExecuteSequentially(jobSequential bool) bool {
	return jobSequential || s.mode == Sequential
}

type Policy struct {
	dir   catalog.Directory
	graph *fkgraph.Graph
}

func NewPolicy(dir catalog.Directory, graph *fkgraph.Graph) *Policy {
	return &Policy{dir: dir, graph: graph}
}

func (p *Policy) isReferenceTable(ctx context.Context, rv *stmt.RangeVar, searchPath []string) (bool, error) {
	if rv == nil {
		return false, nil
	}
	id, err := p.dir.LookupRelation(ctx, rv.Schema, rv.Name, searchPath)
	if errors.Is(err, catalog.ErrRelationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rel, err := p.dir.Relation(ctx, id)
	if err != nil {
		return false, err
	}
	return rel.IsReferenceTable(), nil
}

// ForAlterTableCmd reports whether cmd on rel must run over a single
// connection per node. ALTER COLUMN TYPE inside a transaction block also
// switches the whole transaction to sequential mode.
func (p *Policy) ForAlterTableCmd(ctx context.Context, rel *catalog.Relation, cmd *stmt.AlterTableCmd, searchPath []string, st *State, inTxBlock bool) (bool, error) {
	sequential := false

	switch cmd.Subtype {
	case stmt.AlterDropConstraint:
		ok, err := p.graph.ConstraintIsAForeignKeyToReferenceTable(ctx, cmd.Name, rel.ID)
		if err != nil {
			return false, err
		}
		sequential = ok

	case stmt.AlterAddColumn:
		if cmd.Def == nil {
			break
		}
		for _, c := range cmd.Def.Constraints {
			if c.Type != stmt.ConstrForeign {
				continue
			}
			ok, err := p.isReferenceTable(ctx, c.PKTable, searchPath)
			if err != nil {
				return false, err
			}
			sequential = sequential || ok
		}

	case stmt.AlterDropColumn, stmt.AlterColumnType:
		ok, err := p.graph.ColumnAppearsInForeignKeyToReferenceTable(ctx, cmd.Name, rel.ID)
		if err != nil {
			return false, err
		}
		if ok {
			if inTxBlock && cmd.Subtype == stmt.AlterColumnType {
				st.SwitchToSequential()
			}
			sequential = true
		}

	case stmt.AlterAddConstraint:
		if cmd.Constraint != nil && cmd.Constraint.Type == stmt.ConstrForeign {
			ok, err := p.isReferenceTable(ctx, cmd.Constraint.PKTable, searchPath)
			if err != nil {
				return false, err
			}
			sequential = ok
		}
	}

	if sequential && rel.Distributed && !rel.IsReferenceTable() && st.ParallelExecuted() {
		return false, ErrParallelExecuted(rel.Name)
	}
	return sequential, nil
}

// ForTruncate switches the transaction to sequential mode when a truncated
// reference table is referenced by a foreign key.
func (p *Policy) ForTruncate(ctx context.Context, rels []*catalog.Relation, st *State) (bool, error) {
	for _, rel := range rels {
		if !rel.IsReferenceTable() {
			continue
		}
		referenced, err := p.graph.TableReferenced(ctx, rel.ID)
		if err != nil {
			return false, err
		}
		if referenced {
			coordlog.Zero.Debug().
				Str("relation", rel.Name).
				Msg("reference relation is truncated, switching to sequential mode")
			st.SwitchToSequential()
			return true, nil
		}
	}
	return false, nil
}

func ErrParallelExecuted(relName string) error {
	return coorderror.Newf(coorderror.COORD_SEQUENTIAL_ESCALATION,
		"cannot modify table \"%s\" because there was a parallel operation on a distributed table in the transaction", relName).
		WithDetail("When there is a foreign key to a reference table, Citus needs to perform all operations over a single connection per node to ensure consistency.").
		WithHint("Try re-running the transaction with \"SET LOCAL multi_shard_modify_mode TO 'sequential';\"")
}
