package database

import "errors"

// ErrPathRequired is returned by Open when no database path is configured.
var ErrPathRequired = errors.New("database: path is required")
