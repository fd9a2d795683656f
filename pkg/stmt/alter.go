package stmt

type AlterTableType int

const (
	AlterAddColumn AlterTableType = iota
	AlterDropColumn
	AlterColumnDefault
	AlterColumnType
	AlterDropNotNull
	AlterSetNotNull
	AlterAddConstraint
	AlterDropConstraint
	AlterAttachPartition
	AlterDetachPartition
	AlterEnableTrigAll
	AlterDisableTrigAll
	AlterEnableTrig
	AlterDisableTrig
	AlterReplicaIdentity
	AlterSetRelOptions
	AlterResetRelOptions
	AlterReplaceRelOptions
	AlterSetStatistics
	AlterSetTableSpace
	AlterValidateConstraint
	AlterOther
)

type ConstraintType int

const (
	ConstrPrimary ConstraintType = iota
	ConstrUnique
	ConstrForeign
	ConstrCheck
	ConstrExclusion
	ConstrNotNull
	ConstrDefault
)

type FKAction byte

const (
	FKActionNoAction   FKAction = 'a'
	FKActionRestrict   FKAction = 'r'
	FKActionCascade    FKAction = 'c'
	FKActionSetNull    FKAction = 'n'
	FKActionSetDefault FKAction = 'd'
)

type Constraint struct {
	Type ConstraintType
	Name string
	// Keys are the constrained columns; empty for column constraints.
	Keys []string

	PKTable  *RangeVar
	PKAttrs  []string
	OnDelete FKAction
	OnUpdate FKAction

	// ExclusionEquality marks which exclusion operators are equality.
	ExclusionEquality []bool
	SkipValidation    bool
}

type ColumnDef struct {
	Name        string
	TypeName    string
	Constraints []*Constraint
}

type AlterTableCmd struct {
	Subtype AlterTableType
	// Name is the column or constraint name the subcommand touches.
	Name       string
	Def        *ColumnDef
	Constraint *Constraint
	Partition  *RangeVar
	Cascade    bool
	MissingOK  bool
}

// AlterTableStmt covers ALTER TABLE and ALTER INDEX.
type AlterTableStmt struct {
	Relation  RangeVar
	ObjType   ObjectType
	Cmds      []*AlterTableCmd
	MissingOK bool
}

func (*AlterTableStmt) Kind() Kind { return KindAlterTable }

type RenameStmt struct {
	RenameType   ObjectType
	RelationType ObjectType
	Relation     *RangeVar
	SubName      string
	NewName      string
	MissingOK    bool
}

func (*RenameStmt) Kind() Kind { return KindRename }

type AlterObjectSchemaStmt struct {
	ObjType   ObjectType
	Relation  *RangeVar
	NewSchema string
	MissingOK bool
}

func (*AlterObjectSchemaStmt) Kind() Kind { return KindAlterObjectSchema }

type AlterTableMoveAllStmt struct {
	OrigTablespace string
	NewTablespace  string
	ObjType        ObjectType
}

func (*AlterTableMoveAllStmt) Kind() Kind { return KindAlterTableMoveAll }
