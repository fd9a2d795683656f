// Package conn opens and drives connections to worker nodes.
package conn

import (
	"context"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/txstatus"
)

// Target addresses one worker node.
type Target struct {
	GroupID int32
	Host    string
	Port    int
}

func (t Target) NodeKey() string {
	return catalog.NodeKey(t.Host, t.Port)
}

func TargetFromPlacement(p catalog.ShardPlacement) Target {
	return Target{GroupID: p.GroupID, Host: p.NodeHost, Port: p.NodePort}
}

func TargetFromNode(n catalog.WorkerNode) Target {
	return Target{GroupID: n.GroupID, Host: n.Host, Port: n.Port}
}

//go:generate mockgen -source=pkg/conn/conn.go -destination=pkg/mock/conn/mock_conn.go -package=mock_conn
type Conn interface {
	Target() Target

	// Exec runs sql with the simple protocol; sql may hold several statements.
	Exec(ctx context.Context, sql string) error
	QueryBool(ctx context.Context, sql string) (bool, error)
	QueryStrings(ctx context.Context, sql string) ([]string, error)

	TxStatus() txstatus.TXStatus

	// CancelRequest asks the server to cancel the running statement.
	CancelRequest(ctx context.Context) error
	// Terminate drops the network connection. Unlike Close it may be called
	// while another goroutine is inside Exec, which then fails.
	Terminate() error
	Close(ctx context.Context) error
}

type Dialer interface {
	Connect(ctx context.Context, target Target) (Conn, error)
}
