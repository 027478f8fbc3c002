package repo

import (
	"math/rand"
	"os"
	"path"
	"strconv"
)

// MockDB returns an in-memory sqlite db with migrations applied.
func MockDB() (*SqliteDB, error) {
	db, err := NewSqliteDB(":memory:")
	if err != nil {
		return nil, err
	}
	if err := autoMigrateDatabase(db); err != nil {
		return nil, err
	}
	return db, nil
}

// MockRepo returns a repo which uses a tmp data directory
// and in-memory database.
func MockRepo() (*Repo, error) {
	n := rand.Intn(1000000)
	dataDir := path.Join(os.TempDir(), "pulse-test", strconv.Itoa(n))
	r, err := newRepo(dataDir, true)
	if err != nil {
		return nil, err
	}
	return r, nil
}
