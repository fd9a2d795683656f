// Package recovery resolves prepared transactions left behind on workers by
// coordinator sessions that died between PREPARE and COMMIT PREPARED.
package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	retry "github.com/sethvargo/go-retry"

	"github.com/pg-sharding/ddlcoord/coordinator/statistics"
	"github.com/pg-sharding/ddlcoord/coordinator/xact"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/deparse"
	"github.com/pg-sharding/ddlcoord/qdb"
)

const (
	defaultConnectRetries = 3
	defaultConnectBackoff = 200 * time.Millisecond
)

// Report sums up one recovery pass.
type Report struct {
	Committed int
	Aborted   int
	// Skipped counts records of transactions still owned by a live session.
	Skipped int
	// Forgotten counts records whose prepared transaction was already gone.
	Forgotten int
	// FailedGroups lists node groups that could not be processed.
	FailedGroups []int32
}

func (r Report) Resolved() int {
	return r.Committed + r.Aborted
}

type Option func(*Sweeper)

// WithDirectory makes the sweeper also scan active primaries that have no
// recovery records for orphaned prepared transactions.
func WithDirectory(dir catalog.Directory) Option {
	return func(s *Sweeper) {
		s.dir = dir
	}
}

// WithCommitMarkers makes the sweeper consult commit markers written by
// local transactions when the recovery log holds no commit decision.
func WithCommitMarkers(m xact.CommitMarkers) Option {
	return func(s *Sweeper) {
		s.markers = m
	}
}

// WithBackoff replaces the reconnect policy.
func WithBackoff(b func() retry.Backoff) Option {
	return func(s *Sweeper) {
		s.backoff = b
	}
}

type Sweeper struct {
	dialer  conn.Dialer
	log     qdb.RecoveryLog
	dir     catalog.Directory
	markers xact.CommitMarkers
	prefix  string
	backoff func() retry.Backoff
}

func NewSweeper(dialer conn.Dialer, log qdb.RecoveryLog, gidPrefix string, opts ...Option) *Sweeper {
	s := &Sweeper{
		dialer: dialer,
		log:    log,
		prefix: gidPrefix,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(defaultConnectRetries, retry.NewExponential(defaultConnectBackoff))
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pass is the state of a single Recover call.
type pass struct {
	report Report

	// remaining counts unresolved records per transaction
	remaining map[string]int
	owned     map[string]bool
	decisions map[string]bool
}

func (s *Sweeper) preparedQuery() string {
	return fmt.Sprintf("SELECT gid FROM pg_prepared_xacts WHERE gid LIKE %s AND database = current_database()",
		deparse.QuoteLiteral(s.prefix+"_%"))
}

// Recover runs one recovery pass over every node group that has recovery
// records, plus every active primary when a directory is configured. A
// group that cannot be reached is reported and retried on the next pass.
func (s *Sweeper) Recover(ctx context.Context) (Report, error) {
	span := opentracing.StartSpan("recover transactions")
	defer span.Finish()

	records, err := s.log.ListRecoveryRecords(ctx)
	if err != nil {
		span.SetTag("error", true)
		return Report{}, err
	}

	p := &pass{
		remaining: map[string]int{},
		owned:     map[string]bool{},
		decisions: map[string]bool{},
	}
	defer s.releaseAll(ctx, p)

	byGroup := map[int32][]*qdb.RecoveryRecord{}
	targets := map[int32]conn.Target{}
	for _, r := range records {
		byGroup[r.GroupID] = append(byGroup[r.GroupID], r)
		p.remaining[r.TxID]++
		if _, ok := targets[r.GroupID]; !ok {
			targets[r.GroupID] = conn.Target{GroupID: r.GroupID, Host: r.NodeHost, Port: r.NodePort}
		}
	}
	if err := s.addDirectoryNodes(ctx, targets); err != nil {
		span.SetTag("error", true)
		return Report{}, err
	}

	groups := make([]int32, 0, len(targets))
	for g := range targets {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })

	span.SetTag("records", len(records))
	span.SetTag("groups", len(groups))

	var firstErr error
	for _, g := range groups {
		if err := s.recoverGroup(ctx, p, targets[g], byGroup[g]); err != nil {
			coordlog.Zero.Warn().
				Err(err).
				Int32("group", g).
				Str("node", targets[g].NodeKey()).
				Msg("could not recover prepared transactions on node")
			p.report.FailedGroups = append(p.report.FailedGroups, g)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.forgetDecisions(ctx, p)

	statistics.RecordRecovered(statistics.OutcomeCommitted, p.report.Committed)
	statistics.RecordRecovered(statistics.OutcomeAborted, p.report.Aborted)

	coordlog.Zero.Info().
		Int("committed", p.report.Committed).
		Int("aborted", p.report.Aborted).
		Int("skipped", p.report.Skipped).
		Int("forgotten", p.report.Forgotten).
		Int("failed groups", len(p.report.FailedGroups)).
		Msg("recovery pass finished")

	if firstErr != nil {
		span.SetTag("error", true)
	}
	return p.report, firstErr
}

func (s *Sweeper) addDirectoryNodes(ctx context.Context, targets map[int32]conn.Target) error {
	if s.dir == nil {
		return nil
	}
	nodes, err := s.dir.ActivePrimaryNodes(ctx)
	if err != nil {
		return err
	}
	localGroup, err := s.dir.LocalGroupID(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if n.GroupID == localGroup {
			continue
		}
		if _, ok := targets[n.GroupID]; !ok {
			targets[n.GroupID] = conn.TargetFromNode(n)
		}
	}
	return nil
}

func (s *Sweeper) connect(ctx context.Context, target conn.Target) (conn.Conn, error) {
	var c conn.Conn
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		var err error
		c, err = s.dialer.Connect(ctx, target)
		if err != nil {
			coordlog.Zero.Debug().
				Err(err).
				Str("node", target.NodeKey()).
				Msg("recovery connect failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, coorderror.Wrap(coorderror.COORD_CONNECTION_ERROR, errors.Wrapf(err, "could not connect to %s", target.NodeKey()))
	}
	return c, nil
}

// claim takes ownership of txID for the rest of the pass. False means a
// live session still drives the transaction.
func (s *Sweeper) claim(ctx context.Context, p *pass, txID string) (bool, error) {
	if owned, seen := p.owned[txID]; seen {
		return owned, nil
	}
	ok, err := s.log.AcquireTxOwnership(ctx, txID)
	if err != nil {
		return false, err
	}
	p.owned[txID] = ok
	if !ok {
		return false, nil
	}

	decided, err := s.committed(ctx, txID)
	if err != nil {
		return false, err
	}
	p.decisions[txID] = decided
	return true, nil
}

// committed reports whether txID reached its commit point. The local commit
// marker is authoritative; the logged decision is a copy of it.
func (s *Sweeper) committed(ctx context.Context, txID string) (bool, error) {
	decided, err := s.log.HasCommitDecision(ctx, txID)
	if err != nil || decided || s.markers == nil {
		return decided, err
	}
	decided, err = s.markers.TransactionCommitted(ctx, txID)
	if err != nil {
		return false, errors.Wrapf(err, "could not look up commit marker of %s", txID)
	}
	return decided, nil
}

func (s *Sweeper) recoverGroup(ctx context.Context, p *pass, target conn.Target, records []*qdb.RecoveryRecord) error {
	c, err := s.connect(ctx, target)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.WithoutCancel(ctx)); err != nil {
			coordlog.Zero.Error().Err(err).Str("node", target.NodeKey()).Msg("failed to close recovery connection")
		}
	}()

	gids, err := c.QueryStrings(ctx, s.preparedQuery())
	if err != nil {
		return err
	}
	pending := make(map[string]bool, len(gids))
	for _, gid := range gids {
		pending[gid] = true
	}

	recorded := make(map[string]bool, len(records))
	for _, r := range records {
		recorded[r.GID] = true

		ok, err := s.claim(ctx, p, r.TxID)
		if err != nil {
			return err
		}
		if !ok {
			p.report.Skipped++
			continue
		}

		if pending[r.GID] {
			if err := s.finish(ctx, p, c, r.TxID, r.GID); err != nil {
				return err
			}
		} else {
			coordlog.Zero.Debug().
				Str("tx", r.TxID).
				Str("gid", r.GID).
				Msg("prepared transaction already finished, forgetting record")
			p.report.Forgotten++
		}

		if err := s.log.DeleteRecoveryRecord(ctx, r.GroupID, r.GID); err != nil {
			return err
		}
		p.remaining[r.TxID]--
	}

	// prepared by a session that died before writing its records
	for _, gid := range gids {
		if recorded[gid] {
			continue
		}
		txID, group, ok := xact.ParseGID(s.prefix, gid)
		if !ok || group != target.GroupID {
			continue
		}
		ok, err := s.claim(ctx, p, txID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := s.finish(ctx, p, c, txID, gid); err != nil {
			return err
		}
	}
	return nil
}

// finish commits or rolls back one prepared transaction according to the
// commit decision of its distributed transaction.
func (s *Sweeper) finish(ctx context.Context, p *pass, c conn.Conn, txID, gid string) error {
	verb := "ROLLBACK"
	if p.decisions[txID] {
		verb = "COMMIT"
	}
	q := fmt.Sprintf("%s PREPARED %s", verb, deparse.QuoteLiteral(gid))

	coordlog.Zero.Info().
		Str("tx", txID).
		Str("gid", gid).
		Str("node", c.Target().NodeKey()).
		Str("action", verb).
		Msg("recovering prepared transaction")

	if err := c.Exec(ctx, q); err != nil {
		return errors.Wrapf(err, "could not %s prepared transaction %s", verb, gid)
	}
	if p.decisions[txID] {
		p.report.Committed++
	} else {
		p.report.Aborted++
	}
	return nil
}

// forgetDecisions drops commit decisions of claimed transactions that have
// no unresolved record left.
func (s *Sweeper) forgetDecisions(ctx context.Context, p *pass) {
	for txID, decided := range p.decisions {
		if !decided || p.remaining[txID] > 0 {
			continue
		}
		if err := s.log.DeleteCommitDecision(ctx, txID); err != nil {
			coordlog.Zero.Warn().Err(err).Str("tx", txID).Msg("failed to delete commit decision")
		}
		if s.markers == nil {
			continue
		}
		if err := s.markers.ForgetTransaction(ctx, txID); err != nil {
			coordlog.Zero.Warn().Err(err).Str("tx", txID).Msg("failed to delete commit marker")
		}
	}
}

func (s *Sweeper) releaseAll(ctx context.Context, p *pass) {
	ctx = context.WithoutCancel(ctx)
	for txID, owned := range p.owned {
		if !owned {
			continue
		}
		if err := s.log.ReleaseTxOwnership(ctx, txID); err != nil {
			coordlog.Zero.Error().Err(err).Str("tx", txID).Msg("failed to release transaction ownership")
		}
	}
}

// Run repeats Recover every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	coordlog.Zero.Info().Dur("interval", interval).Msg("starting transaction recovery daemon")

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := s.Recover(ctx); err != nil {
			coordlog.Zero.Error().Err(err).Msg("recovery pass failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
