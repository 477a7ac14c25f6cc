// Package repo implements repository lifecycle and write serialization
// (C7, spec §4.7): init, open, the single-writer lock, and the layout
// version gate on the `index` branch's `_bunsen_format` file (§6).
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/cache"
	"github.com/bunsen-project/bunsen/internal/config"
	"github.com/bunsen-project/bunsen/internal/index"
	"github.com/bunsen-project/bunsen/internal/ingest"
	"github.com/bunsen-project/bunsen/internal/lockfile"
	"github.com/bunsen-project/bunsen/internal/objstore"
	"github.com/bunsen-project/bunsen/internal/query"
	"github.com/bunsen-project/bunsen/internal/repair"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// GitDir is the bare object store's directory name within a repository.
const GitDir = "bunsen.git"

// FormatFileName is the layout-version marker at the root of the index
// branch's tree.
const FormatFileName = "_bunsen_format"

// CurrentFormatVersion is the layout version this engine writes and the
// highest it will mutate.
const CurrentFormatVersion = 1

// defaultLockRetry is how often WithWriteLock polls bunsen.lock while
// waiting to acquire it.
const defaultLockRetry = 50 * time.Millisecond

const (
	identityName  = "bunsen"
	identityEmail = "bunsen@local"
)

// layoutFormat is the JSON shape of _bunsen_format.
type layoutFormat struct {
	Version int `json:"version"`
}

// Repo is an open repository: its object store, its loaded configuration,
// and the directory the advisory lock and config file live in.
type Repo struct {
	Dir    string
	Store  *objstore.Store
	Config *config.Config
}

// Init creates a new repository at dir: a bare object store, a default
// config file, and an initial empty commit on the index branch carrying
// _bunsen_format. Per §6/§9, the cache/ directory is never created here —
// it is opaque to the engine and owned by analysis scripts.
func Init(dir, defaultProject string) (*Repo, error) {
	store, err := objstore.Init(filepath.Join(dir, GitDir))
	if err != nil {
		return nil, err
	}

	store.EnableBlobCache(cache.DefaultLRUCacheSize)

	cfg := config.New(defaultProject)
	if err := cfg.Save(filepath.Join(dir, config.FileName)); err != nil {
		return nil, err
	}

	formatJSON, err := json.Marshal(layoutFormat{Version: CurrentFormatVersion})
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindValidationFailed, "marshal _bunsen_format", err)
	}

	treeHash, err := store.PutTree([]objstore.Entry{{Name: FormatFileName, Data: formatJSON}})
	if err != nil {
		return nil, err
	}

	commitHash, err := store.MakeCommit(objstore.CommitSpec{
		Tree:      treeHash,
		Name:      identityName,
		Email:     identityEmail,
		Timestamp: time.Unix(0, 0).UTC(),
		Message:   "bunsen: init\n",
	})
	if err != nil {
		return nil, err
	}

	if err := store.UpdateRef(index.Branch, gitlib.ZeroHash(), commitHash); err != nil {
		return nil, err
	}

	return &Repo{Dir: dir, Store: store, Config: cfg}, nil
}

// Open opens an existing repository at dir, loading its configuration and
// checking the index branch's layout version is not newer than this
// engine supports.
func Open(dir string) (*Repo, error) {
	store, err := objstore.Open(filepath.Join(dir, GitDir))
	if err != nil {
		return nil, err
	}

	store.EnableBlobCache(cache.DefaultLRUCacheSize)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		return nil, err
	}

	r := &Repo{Dir: dir, Store: store, Config: cfg}

	if err := r.checkFormatVersion(); err != nil {
		return nil, err
	}

	return r, nil
}

// Close releases the repository's object store handle.
func (r *Repo) Close() {
	r.Store.Close()
}

// checkFormatVersion refuses to open a repository whose _bunsen_format
// version exceeds what this engine understands, per §6.
func (r *Repo) checkFormatVersion() error {
	tip, err := r.Store.ResolveRef(index.Branch)
	if err != nil {
		return err
	}

	if tip.IsZero() {
		return bunsenerr.New(bunsenerr.KindBadConfig, "repository has no index branch; run init first")
	}

	data, err := r.Store.ReadPath(tip, FormatFileName)
	if err != nil {
		return bunsenerr.Wrap(bunsenerr.KindBadConfig, "read "+FormatFileName, err)
	}

	var f layoutFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return bunsenerr.Wrap(bunsenerr.KindBadConfig, "parse "+FormatFileName, err)
	}

	if f.Version > CurrentFormatVersion {
		return bunsenerr.New(bunsenerr.KindBadConfig,
			fmt.Sprintf("repository format version %d is newer than this engine supports (%d)", f.Version, CurrentFormatVersion))
	}

	return nil
}

// WithWriteLock acquires bunsen.lock, runs fn, and releases it. Every
// ingest and maintenance call must go through this — readers never take
// the lock (§4.7/§5).
func (r *Repo) WithWriteLock(ctx context.Context, fn func() error) error {
	return lockfile.WithLock(ctx, r.Dir, defaultLockRetry, fn)
}

// Ingester returns an ingest engine bound to this repository's store and
// configuration. Callers must run it inside WithWriteLock.
func (r *Repo) Ingester() *ingest.Engine {
	e := ingest.New(r.Store, r.Config)
	e.Dir = r.Dir

	return e
}

// Query returns a lock-free query engine bound to this repository's store.
func (r *Repo) Query() *query.Engine {
	return query.New(r.Store)
}

// Repairer returns a maintenance engine bound to this repository's store.
// Callers must run it inside WithWriteLock.
func (r *Repo) Repairer() *repair.Engine {
	e := repair.New(r.Store)
	e.Dir = r.Dir

	return e
}
