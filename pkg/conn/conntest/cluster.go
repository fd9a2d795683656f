// Package conntest provides an in-memory worker cluster implementing
// conn.Dialer. Nodes track transaction blocks and prepared transactions
// closely enough to observe commit and abort behaviour.
package conntest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/txstatus"
)

type Cluster struct {
	mu          sync.Mutex
	nodes       map[string]*Node
	connections int
	log         []string
}

var _ conn.Dialer = &Cluster{}

func NewCluster() *Cluster {
	return &Cluster{nodes: map[string]*Node{}}
}

func (c *Cluster) AddNode(target conn.Target) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := &Node{cluster: c, target: target, prepared: map[string][]string{}}
	c.nodes[target.NodeKey()] = n
	return n
}

func (c *Cluster) Node(key string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.nodes[key]
}

// Connections is the number of successful Connect calls.
func (c *Cluster) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connections
}

func (c *Cluster) Connect(_ context.Context, target conn.Target) (conn.Conn, error) {
	c.mu.Lock()
	n, ok := c.nodes[target.NodeKey()]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("could not connect to %s: no such node", target.NodeKey())
	}
	if n.refusesConnections() {
		return nil, fmt.Errorf("could not connect to %s: connection refused", target.NodeKey())
	}

	c.mu.Lock()
	c.connections++
	c.mu.Unlock()

	return &fakeConn{
		node:     n,
		target:   target,
		cancelCh: make(chan struct{}),
		closedCh: make(chan struct{}),
	}, nil
}

// Log returns every statement sent to the cluster as "host:port sql", in
// arrival order.
func (c *Cluster) Log() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.log...)
}

func (c *Cluster) record(node, sql string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.log = append(c.log, node+" "+sql)
}

// Node is one fake worker.
type Node struct {
	mu      sync.Mutex
	cluster *Cluster
	target  conn.Target

	applied  []string
	executed []string
	prepared map[string][]string

	failOn        []string
	blockOn       []string
	failPrepare   bool
	cancelFails   bool
	refuseConnect bool

	cancels      int
	closes       int
	terminations int
}

func (n *Node) Target() conn.Target { return n.target }

// FailOn makes every statement containing substr fail.
func (n *Node) FailOn(substr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failOn = append(n.failOn, substr)
}

// BlockOn makes statements containing substr hang until canceled or the
// connection is closed.
func (n *Node) BlockOn(substr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blockOn = append(n.blockOn, substr)
}

// ClearFailures drops every injected failure and block.
func (n *Node) ClearFailures() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failOn, n.blockOn = nil, nil
	n.failPrepare = false
}

func (n *Node) FailPrepare(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failPrepare = v
}

func (n *Node) CancelFails(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelFails = v
}

func (n *Node) RefuseConnections(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refuseConnect = v
}

// AddPrepared leaves a prepared transaction behind, as a crashed coordinator would.
func (n *Node) AddPrepared(gid string, commands ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prepared[gid] = commands
}

func (n *Node) Applied() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.applied...)
}

func (n *Node) Executed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.executed...)
}

func (n *Node) PreparedGIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	ret := make([]string, 0, len(n.prepared))
	for gid := range n.prepared {
		ret = append(ret, gid)
	}
	sort.Strings(ret)
	return ret
}

func (n *Node) Cancels() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cancels
}

func (n *Node) Closes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closes
}

func (n *Node) Terminations() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.terminations
}

func (n *Node) refusesConnections() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.refuseConnect
}

func matchAny(patterns []string, sql string) bool {
	for _, p := range patterns {
		if strings.Contains(sql, p) {
			return true
		}
	}
	return false
}

// literal extracts the last single-quoted literal of sql.
func literal(sql string) string {
	end := strings.LastIndexByte(sql, '\'')
	if end <= 0 {
		return ""
	}
	start := strings.LastIndexByte(sql[:end], '\'')
	if start < 0 {
		return ""
	}
	return sql[start+1 : end]
}

type fakeConn struct {
	mu     sync.Mutex
	node   *Node
	target conn.Target

	inTx     bool
	txFailed bool
	buf      []string

	cancelCh   chan struct{}
	canceled   bool
	closedCh   chan struct{}
	terminated bool
	closed     bool
}

var _ conn.Conn = &fakeConn{}

func (c *fakeConn) Target() conn.Target { return c.target }

func (c *fakeConn) Exec(ctx context.Context, sql string) error {
	c.mu.Lock()
	if c.closed || c.terminated {
		c.mu.Unlock()
		return fmt.Errorf("conn closed")
	}
	c.mu.Unlock()

	n := c.node
	n.cluster.record(c.target.NodeKey(), sql)
	n.mu.Lock()
	n.executed = append(n.executed, sql)
	block := matchAny(n.blockOn, sql)
	fail := matchAny(n.failOn, sql)
	n.mu.Unlock()

	if block {
		select {
		case <-c.cancelCh:
			c.setFailed()
			return fmt.Errorf("ERROR: canceling statement due to user request")
		case <-c.closedCh:
			return fmt.Errorf("conn closed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		c.setFailed()
		return fmt.Errorf("ERROR: injected failure on %s", c.target.NodeKey())
	}

	return c.apply(strings.TrimSpace(sql))
}

func (c *fakeConn) setFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inTx {
		c.txFailed = true
	}
}

func (c *fakeConn) apply(sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.node
	upper := strings.ToUpper(sql)
	switch {
	case upper == "BEGIN":
		c.inTx, c.txFailed, c.buf = true, false, nil
		return nil

	case upper == "COMMIT":
		if c.inTx && !c.txFailed {
			n.mu.Lock()
			n.applied = append(n.applied, c.buf...)
			n.mu.Unlock()
		}
		c.inTx, c.txFailed, c.buf = false, false, nil
		return nil

	case upper == "ROLLBACK":
		c.inTx, c.txFailed, c.buf = false, false, nil
		return nil

	case strings.HasPrefix(upper, "PREPARE TRANSACTION"):
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.failPrepare || c.txFailed || !c.inTx {
			c.inTx, c.txFailed, c.buf = false, false, nil
			return fmt.Errorf("ERROR: could not prepare transaction on %s", c.target.NodeKey())
		}
		n.prepared[literal(sql)] = c.buf
		c.inTx, c.buf = false, nil
		return nil

	case strings.HasPrefix(upper, "COMMIT PREPARED"), strings.HasPrefix(upper, "ROLLBACK PREPARED"):
		gid := literal(sql)
		n.mu.Lock()
		defer n.mu.Unlock()
		cmds, ok := n.prepared[gid]
		if !ok {
			return fmt.Errorf("ERROR: prepared transaction with identifier \"%s\" does not exist", gid)
		}
		if strings.HasPrefix(upper, "COMMIT") {
			n.applied = append(n.applied, cmds...)
		}
		delete(n.prepared, gid)
		return nil
	}

	if c.inTx {
		if c.txFailed {
			return fmt.Errorf("ERROR: current transaction is aborted, commands ignored until end of transaction block")
		}
		c.buf = append(c.buf, sql)
		return nil
	}
	n.mu.Lock()
	n.applied = append(n.applied, sql)
	n.mu.Unlock()
	return nil
}

func (c *fakeConn) QueryBool(ctx context.Context, sql string) (bool, error) {
	if err := c.checkQuery(sql); err != nil {
		return false, err
	}
	if strings.Contains(sql, "pg_prepared_xacts") {
		c.node.mu.Lock()
		defer c.node.mu.Unlock()
		_, ok := c.node.prepared[literal(sql)]
		return ok, nil
	}
	return false, fmt.Errorf("conntest: unsupported query %q", sql)
}

func (c *fakeConn) QueryStrings(ctx context.Context, sql string) ([]string, error) {
	if err := c.checkQuery(sql); err != nil {
		return nil, err
	}
	if !strings.Contains(sql, "pg_prepared_xacts") {
		return nil, fmt.Errorf("conntest: unsupported query %q", sql)
	}
	prefix := ""
	if strings.Contains(sql, "LIKE") {
		prefix = strings.TrimSuffix(literal(sql), "%")
	}
	var ret []string
	for _, gid := range c.node.PreparedGIDs() {
		if strings.HasPrefix(gid, prefix) {
			ret = append(ret, gid)
		}
	}
	return ret, nil
}

func (c *fakeConn) checkQuery(sql string) error {
	c.mu.Lock()
	closed := c.closed || c.terminated
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("conn closed")
	}
	c.node.mu.Lock()
	defer c.node.mu.Unlock()
	c.node.executed = append(c.node.executed, sql)
	if matchAny(c.node.failOn, sql) {
		return fmt.Errorf("ERROR: injected failure on %s", c.target.NodeKey())
	}
	return nil
}

func (c *fakeConn) TxStatus() txstatus.TXStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.inTx && c.txFailed:
		return txstatus.TXERR
	case c.inTx:
		return txstatus.TXACT
	default:
		return txstatus.TXIDLE
	}
}

func (c *fakeConn) CancelRequest(_ context.Context) error {
	c.node.mu.Lock()
	c.node.cancels++
	fails := c.node.cancelFails
	c.node.mu.Unlock()
	if fails {
		return fmt.Errorf("could not send cancel request to %s", c.target.NodeKey())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canceled {
		c.canceled = true
		close(c.cancelCh)
	}
	return nil
}

// Terminate drops the socket under a running statement.
func (c *fakeConn) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.terminated {
		return nil
	}
	c.terminated = true
	c.inTx, c.buf = false, nil
	close(c.closedCh)

	c.node.mu.Lock()
	c.node.terminations++
	c.node.mu.Unlock()
	return nil
}

// Close drops the session; an open transaction is rolled back.
func (c *fakeConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.inTx, c.buf = false, nil
	if !c.terminated {
		close(c.closedCh)
	}

	c.node.mu.Lock()
	c.node.closes++
	c.node.mu.Unlock()
	return nil
}
