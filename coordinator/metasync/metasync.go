// Package metasync relays DDL verbatim to workers that keep a copy of the
// distributed table metadata.
package metasync

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/deparse"
)

// Sender delivers command lists to nodes, either inside the coordinated
// transaction or each command on its own.
type Sender interface {
	SendCommandsToNodes(ctx context.Context, targets []conn.Target, commands []string) error
	SendBareCommandsToNodes(ctx context.Context, targets []conn.Target, commands []string) error
}

type Broadcaster struct {
	dir     catalog.Directory
	enabled bool
}

func NewBroadcaster(dir catalog.Directory, enabled bool) *Broadcaster {
	return &Broadcaster{dir: dir, enabled: enabled}
}

// ShouldSync reports whether DDL on rel must reach metadata workers.
func (b *Broadcaster) ShouldSync(rel *catalog.Relation) bool {
	return b.enabled && rel != nil && rel.ShouldSyncMetadata()
}

// MetadataWorkers lists active primaries holding metadata, sorted by group,
// host and port. The local node is never part of the list.
func (b *Broadcaster) MetadataWorkers(ctx context.Context) ([]conn.Target, error) {
	nodes, err := b.dir.ActivePrimaryNodes(ctx)
	if err != nil {
		return nil, err
	}
	localGroup, err := b.dir.LocalGroupID(ctx)
	if err != nil {
		return nil, err
	}

	sorted := make([]catalog.WorkerNode, 0, len(nodes))
	for _, n := range nodes {
		if n.HasMetadata && n.GroupID != localGroup {
			sorted = append(sorted, n)
		}
	}
	catalog.SortWorkerNodes(sorted)

	ret := make([]conn.Target, 0, len(sorted))
	for _, n := range sorted {
		ret = append(ret, conn.TargetFromNode(n))
	}
	return ret, nil
}

// HasMetadataWorkers reports whether any worker keeps synced metadata.
func (b *Broadcaster) HasMetadataWorkers(ctx context.Context) (bool, error) {
	targets, err := b.MetadataWorkers(ctx)
	if err != nil {
		return false, err
	}
	return len(targets) > 0, nil
}

// CommandList wraps command so that the receiving node applies it locally
// without propagating it any further.
func CommandList(searchPath []string, command string) []string {
	cmds := []string{deparse.DisableDDLPropagation}
	if sp := deparse.SetSearchPathCommand(searchPath); sp != "" {
		cmds = append(cmds, sp)
	}
	return append(cmds, command)
}

// Propagate sends command to metadata workers over the transaction's
// connections.
func (b *Broadcaster) Propagate(ctx context.Context, s Sender, searchPath []string, command string) error {
	return b.send(ctx, s, CommandList(searchPath, command), false)
}

// PropagateBare sends command to metadata workers with each statement
// committing on its own.
func (b *Broadcaster) PropagateBare(ctx context.Context, s Sender, searchPath []string, command string) error {
	return b.send(ctx, s, CommandList(searchPath, command), true)
}

// SendToMetadataWorkers sends commands as is, with propagation disabled
// first.
func (b *Broadcaster) SendToMetadataWorkers(ctx context.Context, s Sender, commands []string) error {
	return b.send(ctx, s, append([]string{deparse.DisableDDLPropagation}, commands...), false)
}

func (b *Broadcaster) send(ctx context.Context, s Sender, commands []string, bare bool) error {
	targets, err := b.MetadataWorkers(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	span := opentracing.StartSpan("metadata sync")
	defer span.Finish()
	span.SetTag("nodes", len(targets))
	span.SetTag("bare", bare)

	coordlog.Zero.Debug().
		Int("nodes", len(targets)).
		Strs("commands", commands).
		Bool("bare", bare).
		Msg("relaying command to metadata workers")

	if bare {
		return s.SendBareCommandsToNodes(ctx, targets, commands)
	}
	return s.SendCommandsToNodes(ctx, targets, commands)
}
