package stmt

type IndexStmt struct {
	Name        string
	Relation    RangeVar
	Columns     []string
	Unique      bool
	Primary     bool
	Exclusion   bool
	Concurrent  bool
	IfNotExists bool
	TableSpace  string
}

func (*IndexStmt) Kind() Kind { return KindIndex }

type DropStmt struct {
	RemoveType ObjectType
	// Objects are the dropped names; schemas are carried in Name. For DROP
	// POLICY they name the table the policy is defined on.
	Objects    []RangeVar
	Cascade    bool
	Concurrent bool
	MissingOK  bool
}

func (*DropStmt) Kind() Kind { return KindDrop }

type TruncateStmt struct {
	Relations []RangeVar
	Cascade   bool
	Restart   bool
}

func (*TruncateStmt) Kind() Kind { return KindTruncate }

type CreateStmt struct {
	Relation RangeVar
	// PartitionOf is set for CREATE TABLE ... PARTITION OF.
	PartitionOf *RangeVar
	IfNotExists bool
}

func (*CreateStmt) Kind() Kind { return KindCreateTable }

type CreatePolicyStmt struct {
	PolicyName string
	Table      RangeVar
}

func (*CreatePolicyStmt) Kind() Kind { return KindCreatePolicy }

type AlterPolicyStmt struct {
	PolicyName string
	Table      RangeVar
}

func (*AlterPolicyStmt) Kind() Kind { return KindAlterPolicy }

type ClusterStmt struct {
	Relation  *RangeVar
	IndexName string
}

func (*ClusterStmt) Kind() Kind { return KindCluster }

type CreateRoleStmt struct {
	Role string
}

func (*CreateRoleStmt) Kind() Kind { return KindCreateRole }

type CreatedbStmt struct {
	DBName string
}

func (*CreatedbStmt) Kind() Kind { return KindCreateDatabase }
