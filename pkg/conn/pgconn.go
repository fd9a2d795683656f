package conn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/pkg/txstatus"
)

// PgDialer opens pgx connections to workers using one connection template.
type PgDialer struct {
	cfg config.WorkerConnCfg
}

var _ Dialer = &PgDialer{}

func NewPgDialer(cfg config.WorkerConnCfg) *PgDialer {
	return &PgDialer{cfg: cfg}
}

func (d *PgDialer) dsn(target Target) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", target.Host, target.Port),
		Path:   "/" + d.cfg.Database,
	}
	if d.cfg.User != "" {
		if d.cfg.Password != "" {
			u.User = url.UserPassword(d.cfg.User, d.cfg.Password)
		} else {
			u.User = url.User(d.cfg.User)
		}
	}
	q := url.Values{}
	if d.cfg.SSLMode != "" {
		q.Set("sslmode", d.cfg.SSLMode)
	}
	if d.cfg.ApplicationName != "" {
		q.Set("application_name", d.cfg.ApplicationName)
	}
	if d.cfg.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(d.cfg.ConnectTimeout/time.Second)))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *PgDialer) Connect(ctx context.Context, target Target) (Conn, error) {
	connCfg, err := pgx.ParseConfig(d.dsn(target))
	if err != nil {
		return nil, coorderror.Wrap(coorderror.COORD_INVALID_CONFIG, err)
	}

	coordlog.Zero.Debug().
		Str("node", target.NodeKey()).
		Int32("group", target.GroupID).
		Msg("connecting to worker")

	c, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, coorderror.Wrap(coorderror.COORD_CONNECTION_ERROR,
			errors.Wrapf(err, "could not establish connection to %s", target.NodeKey()))
	}
	return &pgConn{c: c, target: target}, nil
}

type pgConn struct {
	c      *pgx.Conn
	target Target
}

var _ Conn = &pgConn{}

func (p *pgConn) Target() Target {
	return p.target
}

func (p *pgConn) Exec(ctx context.Context, sql string) error {
	// no arguments: pgx sends the string with the simple protocol
	_, err := p.c.Exec(ctx, sql)
	return err
}

func (p *pgConn) QueryBool(ctx context.Context, sql string) (bool, error) {
	var ret bool
	if err := p.c.QueryRow(ctx, sql).Scan(&ret); err != nil {
		return false, err
	}
	return ret, nil
}

func (p *pgConn) QueryStrings(ctx context.Context, sql string) ([]string, error) {
	rows, err := p.c.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (p *pgConn) TxStatus() txstatus.TXStatus {
	return txstatus.TXStatus(p.c.PgConn().TxStatus())
}

func (p *pgConn) CancelRequest(ctx context.Context) error {
	coordlog.Zero.Debug().Str("node", p.target.NodeKey()).Msg("sending cancel request")
	return p.c.PgConn().CancelRequest(ctx)
}

func (p *pgConn) Terminate() error {
	coordlog.Zero.Debug().Str("node", p.target.NodeKey()).Msg("terminating connection")
	return p.c.PgConn().Conn().Close()
}

func (p *pgConn) Close(ctx context.Context) error {
	return p.c.Close(ctx)
}
