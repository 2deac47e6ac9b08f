package store

import (
	"context"
	"strings"
)

// Open picks the backend: Postgres when databaseURL is set, SQLite when
// sqlitePath is set, memory otherwise. SQL backends get the schema applied.
func Open(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	switch {
	case strings.TrimSpace(databaseURL) != "":
		pg, err := NewPostgres(databaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	case strings.TrimSpace(sqlitePath) != "":
		return NewSQLite(sqlitePath)
	default:
		return NewMemory(), nil
	}
}
