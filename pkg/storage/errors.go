package storage

import "errors"

var (
	ErrNotFound       = errors.New("storage: record not found")
	ErrDuplicate      = errors.New("storage: duplicate key")
	ErrInvalidQuery   = errors.New("storage: invalid query")
	ErrUnknownModel   = errors.New("storage: unknown model")
	ErrSchemaConflict = errors.New("storage: conflicting schema definitions")
)
