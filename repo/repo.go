package repo

import (
	"os"
	"path"

	"github.com/Itwoss/pulse/models"
	"github.com/jinzhu/gorm"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("REPO")

// Repo is a representation of a pulse data directory. In this we store:
// - The pulse.conf file
// - The log directory
// - The notification cache database
type Repo struct {
	db      *SqliteDB
	dataDir string
}

// NewRepo returns a new Repo for the given data directory. It will
// be initialized if it is not already.
func NewRepo(dataDir string) (*Repo, error) {
	return newRepo(dataDir, false)
}

// IsInitialized returns whether the given data directory already holds
// a notification cache database.
func IsInitialized(dataDir string) bool {
	_, err := os.Stat(path.Join(dataDir, "datastore", dbName))
	return err == nil
}

// DB returns the database implementation.
func (r *Repo) DB() *SqliteDB {
	return r.db
}

// DataDir returns the data directory associated with this repo.
func (r *Repo) DataDir() string {
	return r.dataDir
}

// Close will close the repo and associated database.
func (r *Repo) Close() {
	if err := r.db.Close(); err != nil {
		log.Errorf("Error closing database: %s", err)
	}
}

// DestroyRepo deletes the entire directory. Do NOT use this unless you
// are positive you want to wipe all data.
func (r *Repo) DestroyRepo() error {
	if err := r.db.Close(); err != nil {
		return err
	}
	return os.RemoveAll(r.dataDir)
}

func newRepo(dataDir string, inMemoryDB bool) (*Repo, error) {
	var (
		db  *SqliteDB
		err error
	)
	if inMemoryDB {
		db, err = NewSqliteDB(":memory:")
	} else {
		if err := os.MkdirAll(path.Join(dataDir, "datastore"), 0755); err != nil {
			return nil, err
		}
		db, err = NewSqliteDB(dataDir)
	}
	if err != nil {
		return nil, err
	}

	if err := autoMigrateDatabase(db); err != nil {
		return nil, err
	}

	return &Repo{
		dataDir: dataDir,
		db:      db,
	}, nil
}

func autoMigrateDatabase(db *SqliteDB) error {
	dbModels := []interface{}{
		&models.NotificationRecord{},
	}

	return db.Update(func(tx *gorm.DB) error {
		for _, m := range dbModels {
			if err := tx.AutoMigrate(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
