package stmt

type VacuumOption int

const (
	VacOptVacuum VacuumOption = 1 << iota
	VacOptAnalyze
	VacOptVerbose
	VacOptFreeze
	VacOptFull
	VacOptDisablePageSkipping
)

func (o VacuumOption) Has(flag VacuumOption) bool {
	return o&flag != 0
}

type VacuumRelation struct {
	Relation RangeVar
	Columns  []string
}

type VacuumStmt struct {
	Options   VacuumOption
	Relations []VacuumRelation
}

func (*VacuumStmt) Kind() Kind { return KindVacuum }

// IsVacuum reports whether the statement vacuums, as opposed to a pure ANALYZE.
func (v *VacuumStmt) IsVacuum() bool {
	return v.Options.Has(VacOptVacuum)
}
