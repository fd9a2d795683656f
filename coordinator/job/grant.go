package job

import (
	"context"
	"strings"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/deparse"
	"github.com/pg-sharding/ddlcoord/pkg/stmt"
)

// grantPlanner rewrites GRANT and REVOKE into one command per distributed
// table so that ALL TABLES IN SCHEMA only reaches distributed relations.
type grantPlanner struct {
	replicatedModel
}

func (grantPlanner) tables(ctx context.Context, pc *PlanContext, s *stmt.GrantStmt) ([]*catalog.Relation, error) {
	var ret []*catalog.Relation

	if s.TargetType == stmt.GrantTargetAllInSchema {
		for _, schema := range s.Schemas {
			ids, err := pc.Dir.RelationsInSchema(ctx, schema)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				rel, err := pc.relation(ctx, id, nil)
				if err != nil {
					return nil, err
				}
				if rel != nil && rel.Distributed {
					ret = append(ret, rel)
				}
			}
		}
		return ret, nil
	}

	for i := range s.Objects {
		rel, err := pc.lookupDistributed(ctx, &s.Objects[i])
		if err != nil {
			return nil, err
		}
		if rel != nil {
			ret = append(ret, rel)
		}
	}
	return ret, nil
}

func (p grantPlanner) Plan(ctx context.Context, pc *PlanContext, node stmt.Node, _ string) ([]*DDLJob, error) {
	s := node.(*stmt.GrantStmt)
	if !pc.EnableDDLPropagation || s.ObjType != stmt.ObjectTable {
		return nil, nil
	}

	rels, err := p.tables(ctx, pc, s)
	if err != nil || len(rels) == 0 {
		return nil, err
	}

	for _, priv := range s.Privileges {
		if len(priv.Columns) > 0 {
			return nil, unsupported("grant/revoke on column list is currently unsupported")
		}
	}

	grantees := make([]string, 0, len(s.Grantees))
	for _, spec := range s.Grantees {
		g, err := deparse.RoleSpecString(spec, pc.CurrentUser, pc.SessionUser)
		if err != nil {
			return nil, coorderror.Wrap(coorderror.COORD_UNEXPECTED, err)
		}
		grantees = append(grantees, g)
	}
	privileges := deparse.GrantPrivileges(s.Privileges)

	jobs := make([]*DDLJob, 0, len(rels))
	for _, rel := range rels {
		cmd := deparse.GrantCommand(s.IsGrant, privileges,
			deparse.QuoteQualifiedIdentifier(rel.Schema, rel.Name), strings.Join(grantees, ", "), s.GrantOption)
		if !s.IsGrant && s.Cascade {
			cmd += " CASCADE"
		}

		j, err := pc.ddlJob(ctx, rel, cmd)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
