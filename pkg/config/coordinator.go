package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pg-sharding/ddlcoord/pkg/coorderror"
	"github.com/pg-sharding/ddlcoord/pkg/coordlog"
)

const (
	QdbTypeEtcd   = "etcd"
	QdbTypeMemory = "mem"

	CommitProtocol1PC = "1pc"
	CommitProtocol2PC = "2pc"

	ModifyModeParallel   = "parallel"
	ModifyModeSequential = "sequential"

	DefaultGIDPrefix = "citus"
)

var cfgCoordinator Coordinator

type WorkerConnCfg struct {
	User            string        `json:"user" toml:"user" yaml:"user"`
	Password        string        `json:"password" toml:"password" yaml:"password"`
	Database        string        `json:"database" toml:"database" yaml:"database"`
	SSLMode         string        `json:"sslmode" toml:"sslmode" yaml:"sslmode"`
	ApplicationName string        `json:"application_name" toml:"application_name" yaml:"application_name"`
	ConnectTimeout  time.Duration `json:"connect_timeout" toml:"connect_timeout" yaml:"connect_timeout"`
}

type JaegerCfg struct {
	JaegerUrl   string `json:"jaeger_url" toml:"jaeger_url" yaml:"jaeger_url"`
	ServiceName string `json:"service_name" toml:"service_name" yaml:"service_name"`
}

type Coordinator struct {
	LogLevel      string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFileName   string `json:"log_filename" toml:"log_filename" yaml:"log_filename"`
	PrettyLogging bool   `json:"pretty_log" toml:"pretty_log" yaml:"pretty_log"`

	QdbType       string `json:"qdb_type" toml:"qdb_type" yaml:"qdb_type"`
	QdbAddr       string `json:"qdb_addr" toml:"qdb_addr" yaml:"qdb_addr"`
	QdbBackupPath string `json:"qdb_backup_path" toml:"qdb_backup_path" yaml:"qdb_backup_path"`

	// CatalogDSN points at the coordinator node itself; pg_dist_* tables are read from it.
	CatalogDSN string `json:"catalog_dsn" toml:"catalog_dsn" yaml:"catalog_dsn"`

	CommitProtocol       string `json:"commit_protocol" toml:"commit_protocol" yaml:"commit_protocol"`
	ForceTwoPhaseCommit  bool   `json:"force_2pc" toml:"force_2pc" yaml:"force_2pc"`
	MultiShardModifyMode string `json:"multi_shard_modify_mode" toml:"multi_shard_modify_mode" yaml:"multi_shard_modify_mode"`
	EnableDDLPropagation bool   `json:"enable_ddl_propagation" toml:"enable_ddl_propagation" yaml:"enable_ddl_propagation"`
	EnableMetadataSync   bool   `json:"enable_metadata_sync" toml:"enable_metadata_sync" yaml:"enable_metadata_sync"`
	GIDPrefix            string `json:"gid_prefix" toml:"gid_prefix" yaml:"gid_prefix"`
	LocalGroupID         int32  `json:"local_group_id" toml:"local_group_id" yaml:"local_group_id"`

	RecoveryInterval time.Duration `json:"recovery_interval" toml:"recovery_interval" yaml:"recovery_interval"`
	CancelTimeout    time.Duration `json:"cancel_timeout" toml:"cancel_timeout" yaml:"cancel_timeout"`

	Worker WorkerConnCfg `json:"worker" toml:"worker" yaml:"worker"`

	MetricsAddr  string    `json:"metrics_addr" toml:"metrics_addr" yaml:"metrics_addr"`
	JaegerConfig JaegerCfg `json:"jaeger" toml:"jaeger" yaml:"jaeger"`
}

// DefaultCoordinator returns the settings used for keys absent in the file.
func DefaultCoordinator() Coordinator {
	return Coordinator{
		LogLevel:             "info",
		QdbType:              QdbTypeMemory,
		CommitProtocol:       CommitProtocol2PC,
		MultiShardModifyMode: ModifyModeParallel,
		EnableDDLPropagation: true,
		EnableMetadataSync:   true,
		GIDPrefix:            DefaultGIDPrefix,
		RecoveryInterval:     10 * time.Second,
		CancelTimeout:        5 * time.Second,
		Worker: WorkerConnCfg{
			Database:        "postgres",
			SSLMode:         "disable",
			ApplicationName: "ddlcoord",
			ConnectTimeout:  5 * time.Second,
		},
		MetricsAddr: ":7070",
	}
}

// Validate checks enumerated settings.
func (c *Coordinator) Validate() error {
	switch c.QdbType {
	case QdbTypeEtcd:
		if c.QdbAddr == "" {
			return coorderror.New(coorderror.COORD_INVALID_CONFIG, "qdb_addr is required for etcd qdb")
		}
	case QdbTypeMemory:
	default:
		return coorderror.Newf(coorderror.COORD_INVALID_CONFIG, "unknown qdb type %q", c.QdbType)
	}
	switch c.CommitProtocol {
	case CommitProtocol1PC, CommitProtocol2PC:
	default:
		return coorderror.Newf(coorderror.COORD_INVALID_CONFIG, "unknown commit protocol %q", c.CommitProtocol)
	}
	switch c.MultiShardModifyMode {
	case ModifyModeParallel, ModifyModeSequential:
	default:
		return coorderror.Newf(coorderror.COORD_INVALID_CONFIG, "unknown multi_shard_modify_mode %q", c.MultiShardModifyMode)
	}
	if c.GIDPrefix == "" {
		return coorderror.New(coorderror.COORD_INVALID_CONFIG, "gid_prefix must not be empty")
	}
	return nil
}

// LoadCoordinatorCfg loads the coordinator configuration from the specified file path.
//
// Returns:
//   - string: JSON-formatted config
//   - error: An error if any occurred during the loading process.
func LoadCoordinatorCfg(cfgPath string) (string, error) {
	ccfg := DefaultCoordinator()
	file, err := os.Open(cfgPath)
	if err != nil {
		cfgCoordinator = ccfg
		return "", err
	}
	defer func(file *os.File) {
		if err := file.Close(); err != nil {
			coordlog.Zero.Error().Err(err).Msg("failed to close config file")
		}
	}(file)

	if err := initConfig(file, &ccfg); err != nil {
		cfgCoordinator = ccfg
		return "", err
	}
	if err := ccfg.Validate(); err != nil {
		cfgCoordinator = ccfg
		return "", err
	}
	cfgCoordinator = ccfg

	configBytes, err := json.MarshalIndent(&cfgCoordinator, "", "  ")
	if err != nil {
		return "", err
	}

	return string(configBytes), nil
}

// CoordinatorConfig returns a pointer to the Coordinator configuration.
func CoordinatorConfig() *Coordinator {
	return &cfgCoordinator
}
