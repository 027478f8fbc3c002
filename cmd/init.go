package cmd

import (
	"errors"
	"os"

	"github.com/Itwoss/pulse/repo"
)

// Init initializes a new pulse data directory at the provided path.
type Init struct {
	DataDir string `short:"d" long:"datadir" description:"Directory to store data"`
	Force   bool   `short:"f" long:"force" description:"Force overwrite existing data directory (dangerous!)"`
}

// Execute creates the data directory, the default config file, and an
// empty notification cache.
func (x *Init) Execute(args []string) error {
	if x.DataDir == "" {
		x.DataDir = repo.DefaultHomeDir
	}

	if repo.IsInitialized(x.DataDir) && !x.Force {
		return errors.New("data directory is already initialized")
	}
	if x.Force {
		if err := os.RemoveAll(x.DataDir); err != nil {
			return err
		}
	}

	if _, err := repo.LoadConfig(); err != nil {
		return err
	}

	r, err := repo.NewRepo(x.DataDir)
	if err != nil {
		return err
	}
	r.Close()
	log.Infof("Initialized pulse data directory at %s", x.DataDir)
	return nil
}
