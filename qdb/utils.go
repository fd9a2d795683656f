package qdb

import (
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
	"go.etcd.io/etcd/client/v3/concurrency"
)

func closeSession(sess *concurrency.Session) {
	if err := sess.Close(); err != nil {
		coordlog.Zero.Error().Err(err).Msg("etcdqdb: failed to close session")
	}
}
