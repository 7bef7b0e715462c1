package sqlite

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("outbox sqlite: db is required")
	// ErrPathRequired is returned when Open is called with an empty path.
	ErrPathRequired = errors.New("outbox sqlite: path is required")
)
