package db

import (
	"database/sql"
)

// Database is a connection that can be opened and closed around the service lifetime
type Database interface {
	Connect() error
	Close() error
	DB() *sql.DB
}
