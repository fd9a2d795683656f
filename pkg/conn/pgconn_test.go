package conn

import (
	"net/url"
	"testing"
	"time"

	"github.com/pg-sharding/ddlcoord/pkg/catalog"
	"github.com/pg-sharding/ddlcoord/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialerDSN(t *testing.T) {
	d := NewPgDialer(config.WorkerConnCfg{
		User:            "citus",
		Password:        "s3cr:t",
		Database:        "app",
		SSLMode:         "disable",
		ApplicationName: "ddlcoord",
		ConnectTimeout:  3 * time.Second,
	})

	u, err := url.Parse(d.dsn(Target{GroupID: 2, Host: "worker-2", Port: 6432}))
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal("worker-2:6432", u.Host)
	assert.Equal("/app", u.Path)
	assert.Equal("citus", u.User.Username())
	pw, _ := u.User.Password()
	assert.Equal("s3cr:t", pw)
	assert.Equal("disable", u.Query().Get("sslmode"))
	assert.Equal("3", u.Query().Get("connect_timeout"))
	assert.Equal("ddlcoord", u.Query().Get("application_name"))
}

func TestTargets(t *testing.T) {
	assert := assert.New(t)

	p := catalog.ShardPlacement{GroupID: 4, NodeHost: "w4", NodePort: 5432}
	assert.Equal(Target{GroupID: 4, Host: "w4", Port: 5432}, TargetFromPlacement(p))
	assert.Equal("w4:5432", TargetFromPlacement(p).NodeKey())

	n := catalog.WorkerNode{GroupID: 1, Host: "w1", Port: 5433}
	assert.Equal("w1:5433", TargetFromNode(n).NodeKey())
}
