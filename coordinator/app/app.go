// Package app wires the coordinator components together and runs the
// transaction recovery daemon.
package app

import (
	"context"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pg-sharding/ddlcoord/coordinator/metrics"
	"github.com/pg-sharding/ddlcoord/coordinator/recovery"
	"github.com/pg-sharding/ddlcoord/coordinator/utility"
	"github.com/pg-sharding/ddlcoord/coordinator/xact"
	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/pg-sharding/ddlcoord/pkg/conn"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"github.com/pg-sharding/ddlcoord/qdb"
)

type App struct {
	cfg *config.Coordinator

	log     qdb.RecoveryLog
	dialer  conn.Dialer
	dir     catalog.Directory
	txm     *xact.Manager
	hook    *utility.Hook
	sweeper *recovery.Sweeper

	mu      sync.Mutex
	closers []io.Closer
}

func NewApp(cfg *config.Coordinator, log qdb.RecoveryLog, dialer conn.Dialer, dir catalog.Directory, distributor catalog.Distributor) (*App, error) {
	settings, err := xact.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	var txOpts []xact.ManagerOption
	sweepOpts := []recovery.Option{recovery.WithDirectory(dir)}
	if markers, ok := dir.(xact.CommitMarkers); ok {
		txOpts = append(txOpts, xact.WithCommitMarkers(markers))
		sweepOpts = append(sweepOpts, recovery.WithCommitMarkers(markers))
	} else {
		coordlog.Zero.Warn().Msg("catalog keeps no commit markers, the recovery log decides distributed commits")
	}
	txm := xact.NewManager(dialer, log, settings, txOpts...)

	return &App{
		cfg:     cfg,
		log:     log,
		dialer:  dialer,
		dir:     dir,
		txm:     txm,
		hook:    utility.NewHook(dir, distributor, txm, utility.SettingsFromConfig(cfg)),
		sweeper: recovery.NewSweeper(dialer, log, cfg.GIDPrefix, sweepOpts...),
	}, nil
}

// Hook is what the local engine calls for every utility statement.
func (app *App) Hook() *utility.Hook {
	return app.hook
}

func (app *App) TxManager() *xact.Manager {
	return app.txm
}

// AddCloser registers a resource released by Close.
func (app *App) AddCloser(c io.Closer) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.closers = append(app.closers, c)
}

// RecoverOnce runs a single recovery pass.
func (app *App) RecoverOnce(ctx context.Context) (recovery.Report, error) {
	return app.sweeper.Recover(ctx)
}

// Run serves metrics and runs the recovery daemon until ctx is done.
func (app *App) Run(ctx context.Context) error {
	coordlog.Zero.Info().
		Str("qdb", app.cfg.QdbType).
		Dur("recovery interval", app.cfg.RecoveryInterval).
		Msg("running coordinator app")

	if app.cfg.JaegerConfig.JaegerUrl != "" {
		closer, err := initJaegerTracer(app.cfg.JaegerConfig)
		if err != nil {
			coordlog.Zero.Error().Err(err).Msg("could not initialize jaeger tracer")
		} else {
			app.AddCloser(closer)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if app.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(gctx, app.cfg.MetricsAddr)
		})
	}
	g.Go(func() error {
		return app.sweeper.Run(gctx, app.cfg.RecoveryInterval)
	})

	err := g.Wait()
	coordlog.Zero.Debug().Err(err).Msg("exit coordinator app")
	return err
}

func (app *App) Close() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	var first error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			coordlog.Zero.Error().Err(err).Msg("failed to close coordinator resource")
			if first == nil {
				first = err
			}
		}
	}
	app.closers = nil
	return first
}
