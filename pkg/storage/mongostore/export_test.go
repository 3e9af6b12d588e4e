package mongostore

var (
	BuildFilter  = buildFilter
	ToDocument   = toDocument
	FromDocument = fromDocument
	SetDocument  = setDocument
)
