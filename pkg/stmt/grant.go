package stmt

type GrantTargetType int

const (
	GrantTargetObject GrantTargetType = iota
	GrantTargetAllInSchema
)

type RoleSpecType int

const (
	RoleSpecCString RoleSpecType = iota
	RoleSpecCurrentUser
	RoleSpecSessionUser
	RoleSpecPublic
)

type RoleSpec struct {
	Type RoleSpecType
	Name string
}

// AccessPriv is one privilege; an empty Name means ALL PRIVILEGES.
type AccessPriv struct {
	Name    string
	Columns []string
}

type GrantStmt struct {
	IsGrant    bool
	TargetType GrantTargetType
	ObjType    ObjectType
	Objects    []RangeVar
	// Schemas is used with GrantTargetAllInSchema.
	Schemas     []string
	Privileges  []AccessPriv
	Grantees    []RoleSpec
	GrantOption bool
	Cascade     bool
}

func (*GrantStmt) Kind() Kind { return KindGrant }
