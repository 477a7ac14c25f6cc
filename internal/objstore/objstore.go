// Package objstore is the thin domain wrapper over the content-addressed
// git store: it exposes the primitive read/write operations every higher
// layer (ingest, index, query) builds on, and maps the underlying store's
// failure modes onto the engine's stable error kinds.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
	"github.com/bunsen-project/bunsen/internal/cache"
	"github.com/bunsen-project/bunsen/pkg/gitlib"
)

// Store is a content-addressed object store backed by a bare git repository.
type Store struct {
	repo *gitlib.Repository

	// blobCache is nil until EnableBlobCache is called; every lookup path
	// tolerates a nil cache by skipping straight to the uncached read. Safe
	// to share across commits: blob content is immutable once written (it's
	// keyed by its own hash), so there is never a staleness concern, only a
	// size one.
	blobCache *cache.LRUBlobCache
}

// EnableBlobCache turns on an in-memory LRU cache of blob contents, keyed by
// blob hash, with a soft memory cap of maxSizeBytes (cache.DefaultLRUCacheSize
// if <= 0). Repeated reads of the same testlogs file across queries — the
// common case for an MCP server fielding the same cursor or log path more
// than once — are served from memory instead of re-hitting libgit2.
func (s *Store) EnableBlobCache(maxSizeBytes int64) {
	s.blobCache = cache.NewLRUBlobCache(maxSizeBytes)
}

// BlobCacheStats reports cache performance, or the zero value if the cache
// was never enabled.
func (s *Store) BlobCacheStats() cache.LRUStats {
	if s.blobCache == nil {
		return cache.LRUStats{}
	}

	return s.blobCache.Stats()
}

// Open opens the bare git repository at path as an object store.
func Open(path string) (*Store, error) {
	repo, err := gitlib.OpenRepository(path)
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindStoreIO, "open object store", err)
	}

	return &Store{repo: repo}, nil
}

// Init creates a new bare git repository at path and opens it as an object
// store.
func Init(path string) (*Store, error) {
	repo, err := gitlib.InitBare(path)
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindStoreIO, "init object store", err)
	}

	return &Store{repo: repo}, nil
}

// FromRepository wraps an already-open repository as an object store,
// without taking ownership of its lifetime (the caller remains responsible
// for freeing it). Used by tests that build fixtures with
// gitlib.NewTestRepo.
func FromRepository(repo *gitlib.Repository) *Store {
	return &Store{repo: repo}
}

// Close releases the underlying repository handle.
func (s *Store) Close() {
	s.repo.Free()
}

// Entry describes one file to place in a tree written by PutTree.
type Entry struct {
	Name string
	Data []byte
}

// PutBlob writes data as a new blob and returns its hash.
func (s *Store) PutBlob(data []byte) (gitlib.Hash, error) {
	hash, err := s.repo.CreateBlob(data)
	if err != nil {
		return gitlib.Hash{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "put blob", err)
	}

	return hash, nil
}

// PutTree writes a flat tree containing entries (each blob created
// implicitly) and returns the tree's hash.
func (s *Store) PutTree(entries []Entry) (gitlib.Hash, error) {
	specs := make([]gitlib.TreeEntrySpec, 0, len(entries))

	for _, e := range entries {
		blobHash, err := s.PutBlob(e.Data)
		if err != nil {
			return gitlib.Hash{}, err
		}

		specs = append(specs, gitlib.TreeEntrySpec{Name: e.Name, Hash: blobHash, Mode: git2go.FilemodeBlob})
	}

	treeHash, err := s.repo.NewTree(specs)
	if err != nil {
		return gitlib.Hash{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "put tree", err)
	}

	return treeHash, nil
}

// TreeFile is one file to place in a tree built by PutTreeFiles: either
// Data (written as a new blob) or, when Data is nil, an existing Hash
// reused without rewriting its contents. This lets callers rebuild a tree
// that shares most of its entries with a previous one — the IndexFile and
// FullTestrunFile update protocols (§4.5) merge an unchanged sibling set
// with one new or replaced blob.
type TreeFile struct {
	Name string
	Data []byte
	Hash gitlib.Hash
}

// PutTreeFiles writes a flat tree from a mix of new and reused entries.
func (s *Store) PutTreeFiles(files []TreeFile) (gitlib.Hash, error) {
	specs := make([]gitlib.TreeEntrySpec, 0, len(files))

	for _, f := range files {
		hash := f.Hash

		if f.Data != nil {
			blobHash, err := s.PutBlob(f.Data)
			if err != nil {
				return gitlib.Hash{}, err
			}

			hash = blobHash
		}

		specs = append(specs, gitlib.TreeEntrySpec{Name: f.Name, Hash: hash, Mode: git2go.FilemodeBlob})
	}

	treeHash, err := s.repo.NewTree(specs)
	if err != nil {
		return gitlib.Hash{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "put tree", err)
	}

	return treeHash, nil
}

// CommitSpec is the canonical input to MakeCommit: a fully normalized,
// deterministic set of commit fields. Callers are responsible for
// normalizing Timestamp (see gitlib.NormalizeTimestamp) and canonicalizing
// Message before calling this, since the resulting commit hash is a
// content-addressed function of exactly these inputs.
type CommitSpec struct {
	Tree      gitlib.Hash
	Parents   []gitlib.Hash
	Name      string
	Email     string
	Timestamp time.Time
	Message   string
}

// MakeCommit writes a commit object from spec, using the same normalized
// (name, email, timestamp) pair as both author and committer, matching the
// fixed preamble the content-addressed commit id derivation requires.
func (s *Store) MakeCommit(spec CommitSpec) (gitlib.Hash, error) {
	sig := gitlib.Signature{
		Name:  spec.Name,
		Email: spec.Email,
		When:  gitlib.NormalizeTimestamp(spec.Timestamp),
	}

	hash, err := s.repo.CreateCommit(gitlib.CommitSpec{
		Tree:      spec.Tree,
		Parents:   spec.Parents,
		Author:    sig,
		Committer: sig,
		Message:   spec.Message,
	})
	if err != nil {
		return gitlib.Hash{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "make commit", err)
	}

	return hash, nil
}

// ResolveRef returns the commit id branch currently points to, or the zero
// hash if the branch does not exist.
func (s *Store) ResolveRef(branch string) (gitlib.Hash, error) {
	hash, err := s.repo.ResolveRef(branch)
	if err != nil {
		return gitlib.Hash{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "resolve ref "+branch, err)
	}

	return hash, nil
}

// UpdateRef performs a compare-and-set update of branch. Callers must treat
// a returned RefConflict as transient and retry with a freshly resolved
// oldID and a recomputed newID, up to the engine's configured retry limit.
func (s *Store) UpdateRef(branch string, oldID, newID gitlib.Hash) error {
	err := s.repo.UpdateRef(branch, oldID, newID)
	if err != nil {
		if errors.Is(err, gitlib.ErrRefConflict) {
			return bunsenerr.Wrap(bunsenerr.KindRefConflict, "update ref "+branch, err)
		}

		return bunsenerr.Wrap(bunsenerr.KindStoreIO, "update ref "+branch, err)
	}

	return nil
}

// ListBranches returns every branch name currently in the store.
func (s *Store) ListBranches() ([]string, error) {
	names, err := s.repo.ListBranches()
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindStoreIO, "list branches", err)
	}

	return names, nil
}

// ReadPath reads the contents of path in the tree of the given commit. When
// the blob cache is enabled, the blob hash is resolved first so a repeat
// read of the same content (even from a different commit, e.g. two nearby
// testruns-branch commits sharing an unchanged file) is served from memory.
func (s *Store) ReadPath(commitHash gitlib.Hash, path string) ([]byte, error) {
	if s.blobCache == nil {
		data, err := s.repo.ReadPath(commitHash, path)
		if err != nil {
			return nil, bunsenerr.Wrap(bunsenerr.KindNotFound, fmt.Sprintf("read %s at %s", path, commitHash), err)
		}

		return data, nil
	}

	blobHash, err := s.repo.ResolveBlobHash(commitHash, path)
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindNotFound, fmt.Sprintf("read %s at %s", path, commitHash), err)
	}

	if cached := s.blobCache.Get(blobHash); cached != nil {
		return cached.Data, nil
	}

	blob, err := gitlib.NewCachedBlobFromRepo(s.repo, blobHash)
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindNotFound, fmt.Sprintf("read %s at %s", path, commitHash), err)
	}

	s.blobCache.Put(blobHash, blob)

	return blob.Data, nil
}

// ResolveBlobHash resolves path in the tree of the given commit to the blob
// hash it names, without reading the blob's contents. Lets a caller that
// keeps its own cache keyed by blob hash (rather than by commit+path) check
// for a hit before reading.
func (s *Store) ResolveBlobHash(commitHash gitlib.Hash, path string) (gitlib.Hash, error) {
	hash, err := s.repo.ResolveBlobHash(commitHash, path)
	if err != nil {
		return gitlib.Hash{}, bunsenerr.Wrap(bunsenerr.KindNotFound, fmt.Sprintf("resolve %s at %s", path, commitHash), err)
	}

	return hash, nil
}

// ReadTree lists the top-level entries of a commit's tree.
func (s *Store) ReadTree(commitHash gitlib.Hash) ([]gitlib.FlatTreeEntry, error) {
	entries, err := s.repo.ReadTreeEntries(commitHash)
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindStoreIO, "read tree at "+commitHash.String(), err)
	}

	return entries, nil
}

// CommitInfo is the minimal commit metadata repair's chain walk and
// ingest's dedup check need.
type CommitInfo struct {
	Message   string
	Tree      gitlib.Hash
	Parent    gitlib.Hash
	HasParent bool
}

// ReadCommit returns a commit's message, tree hash, and first parent.
// Testlogs branches are append-only single-parent chains (§4.3), so the
// first parent is the only one repair's walk ever follows.
func (s *Store) ReadCommit(hash gitlib.Hash) (CommitInfo, error) {
	commit, err := s.repo.LookupCommit(context.Background(), hash)
	if err != nil {
		return CommitInfo{}, bunsenerr.Wrap(bunsenerr.KindNotFound, "lookup commit "+hash.String(), err)
	}
	defer commit.Free()

	info := CommitInfo{Message: commit.Message(), Tree: commit.TreeHash()}
	if commit.NumParents() > 0 {
		info.Parent = commit.ParentHash(0)
		info.HasParent = true
	}

	return info, nil
}

// GetBlob reads a blob's contents directly by hash.
func (s *Store) GetBlob(hash gitlib.Hash) ([]byte, error) {
	blob, err := s.repo.Native().LookupBlob(hash.ToOid())
	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindNotFound, "lookup blob "+hash.String(), err)
	}
	defer blob.Free()

	data := blob.Contents()
	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}
