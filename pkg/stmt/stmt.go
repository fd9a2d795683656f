// Package stmt holds parsed utility statements as handed over by the SQL
// parser. Only the fields the coordination layer inspects are modelled.
package stmt

type Kind int

const (
	KindOther Kind = iota
	KindTransaction
	KindAlterTable
	KindRename
	KindIndex
	KindDrop
	KindAlterObjectSchema
	KindVacuum
	KindGrant
	KindTruncate
	KindCreateTable
	KindCreatePolicy
	KindAlterPolicy
	KindCluster
	KindCreateRole
	KindCreateDatabase
	KindAlterTableMoveAll
)

var kindNames = map[Kind]string{
	KindOther:             "OTHER",
	KindTransaction:       "TRANSACTION",
	KindAlterTable:        "ALTER TABLE",
	KindRename:            "RENAME",
	KindIndex:             "CREATE INDEX",
	KindDrop:              "DROP",
	KindAlterObjectSchema: "ALTER SET SCHEMA",
	KindVacuum:            "VACUUM",
	KindGrant:             "GRANT",
	KindTruncate:          "TRUNCATE",
	KindCreateTable:       "CREATE TABLE",
	KindCreatePolicy:      "CREATE POLICY",
	KindAlterPolicy:       "ALTER POLICY",
	KindCluster:           "CLUSTER",
	KindCreateRole:        "CREATE ROLE",
	KindCreateDatabase:    "CREATE DATABASE",
	KindAlterTableMoveAll: "ALTER TABLE ALL IN TABLESPACE",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "UNKNOWN"
}

// Node is a parsed utility statement.
type Node interface {
	Kind() Kind
}

// RangeVar names a relation, optionally schema-qualified.
type RangeVar struct {
	Schema string
	Name   string
}

type ObjectType int

const (
	ObjectTable ObjectType = iota
	ObjectIndex
	ObjectColumn
	ObjectTabConstraint
	ObjectPolicy
	ObjectSchema
	ObjectSequence
	ObjectTrigger
	ObjectView
	ObjectForeignTable
	ObjectOther
)

type TxKind int

const (
	TxBegin TxKind = iota
	TxStart
	TxCommit
	TxRollback
	TxSavepoint
	TxRelease
	TxRollbackTo
	TxPrepare
	TxCommitPrepared
	TxRollbackPrepared
)

type TransactionStmt struct {
	TxKind TxKind
	GID    string
}

func (*TransactionStmt) Kind() Kind { return KindTransaction }

type OtherStmt struct{}

func (*OtherStmt) Kind() Kind { return KindOther }
