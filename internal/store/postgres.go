package store

import (
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores experiments in PostgreSQL through the pgx stdlib driver.
type Postgres struct {
	sqlStore
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{sqlStore{db: db}}, nil
}
