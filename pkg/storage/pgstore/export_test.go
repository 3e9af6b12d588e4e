package pgstore

var (
	BuildWhere = buildWhere
	OrderBy    = orderBy
)
