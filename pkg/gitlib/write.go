package gitlib

import (
	"errors"
	"fmt"
	"time"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrRefConflict is returned when a compare-and-set reference update loses
// a race with a concurrent writer.
var ErrRefConflict = errors.New("ref conflict")

// TreeEntrySpec describes one entry to place in a tree built with NewTree.
type TreeEntrySpec struct {
	Name string
	Hash Hash
	Mode git2go.Filemode
}

// CreateBlob writes data as a new blob object and returns its hash.
func (r *Repository) CreateBlob(data []byte) (Hash, error) {
	oid, err := r.repo.CreateBlobFromBuffer(data)
	if err != nil {
		return Hash{}, fmt.Errorf("create blob: %w", err)
	}

	return HashFromOid(oid), nil
}

// NewTree builds a flat tree object from the given entries and returns its
// hash. Entries are inserted in the order given; libgit2's tree builder
// keeps them sorted internally.
func (r *Repository) NewTree(entries []TreeEntrySpec) (Hash, error) {
	builder, err := r.repo.TreeBuilder()
	if err != nil {
		return Hash{}, fmt.Errorf("create tree builder: %w", err)
	}
	defer builder.Free()

	for _, entry := range entries {
		mode := entry.Mode
		if mode == 0 {
			mode = git2go.FilemodeBlob
		}

		insertErr := builder.Insert(entry.Name, entry.Hash.ToOid(), mode)
		if insertErr != nil {
			return Hash{}, fmt.Errorf("insert tree entry %q: %w", entry.Name, insertErr)
		}
	}

	oid, err := builder.Write()
	if err != nil {
		return Hash{}, fmt.Errorf("write tree: %w", err)
	}

	return HashFromOid(oid), nil
}

// CommitSpec describes the canonical inputs to a content-addressed commit.
type CommitSpec struct {
	Tree      Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
}

// CreateCommit writes a commit object from spec and returns its hash. The
// resulting hash is a deterministic function of its inputs: callers that
// want reproducible, content-addressed commit ids must normalize the
// author/committer timestamps and canonicalize the message themselves
// before calling this.
func (r *Repository) CreateCommit(spec CommitSpec) (Hash, error) {
	tree, err := r.repo.LookupTree(spec.Tree.ToOid())
	if err != nil {
		return Hash{}, fmt.Errorf("lookup tree for commit: %w", err)
	}
	defer tree.Free()

	parents := make([]*git2go.Commit, 0, len(spec.Parents))

	defer func() {
		for _, p := range parents {
			p.Free()
		}
	}()

	for _, parentHash := range spec.Parents {
		parent, lookupErr := r.repo.LookupCommit(parentHash.ToOid())
		if lookupErr != nil {
			return Hash{}, fmt.Errorf("lookup parent commit: %w", lookupErr)
		}

		parents = append(parents, parent)
	}

	author := &git2go.Signature{
		Name:  spec.Author.Name,
		Email: spec.Author.Email,
		When:  spec.Author.When,
	}
	committer := &git2go.Signature{
		Name:  spec.Committer.Name,
		Email: spec.Committer.Email,
		When:  spec.Committer.When,
	}

	oid, err := r.repo.CreateCommit("", author, committer, spec.Message, tree, parents...)
	if err != nil {
		return Hash{}, fmt.Errorf("create commit: %w", err)
	}

	return HashFromOid(oid), nil
}

// ResolveRef returns the commit id the branch currently points to. A
// missing branch returns the zero hash and no error.
func (r *Repository) ResolveRef(branch string) (Hash, error) {
	ref, err := r.repo.References.Lookup(refName(branch))
	if err != nil {
		if git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
			return ZeroHash(), nil
		}

		return Hash{}, fmt.Errorf("resolve ref %s: %w", branch, err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// UpdateRef performs a compare-and-set update of branch: it succeeds only
// if the branch currently points at oldID (or is absent, when oldID is the
// zero hash). A zero newID deletes the branch. On any mismatch it returns
// ErrRefConflict.
func (r *Repository) UpdateRef(branch string, oldID, newID Hash) error {
	name := refName(branch)

	current, err := r.ResolveRef(branch)
	if err != nil {
		return err
	}

	if current != oldID {
		return fmt.Errorf("%w: branch %s is at %s, expected %s", ErrRefConflict, branch, current, oldID)
	}

	if oldID.IsZero() {
		_, createErr := r.repo.References.Create(name, newID.ToOid(), false, "bunsen: create "+branch)
		if createErr != nil {
			if git2go.IsErrorCode(createErr, git2go.ErrorCodeExists) {
				return fmt.Errorf("%w: branch %s already exists", ErrRefConflict, branch)
			}

			return fmt.Errorf("create ref %s: %w", branch, createErr)
		}

		return nil
	}

	if newID.IsZero() {
		ref, lookupErr := r.repo.References.Lookup(name)
		if lookupErr != nil {
			return fmt.Errorf("delete ref %s: %w", branch, lookupErr)
		}
		defer ref.Free()

		if deleteErr := ref.Delete(); deleteErr != nil {
			return fmt.Errorf("delete ref %s: %w", branch, deleteErr)
		}

		return nil
	}

	_, err = r.repo.References.CreateMatching(name, newID.ToOid(), true, oldID.ToOid(), "bunsen: update "+branch)
	if err != nil {
		if git2go.IsErrorCode(err, git2go.ErrorCodeModified) {
			return fmt.Errorf("%w: branch %s moved concurrently", ErrRefConflict, branch)
		}

		return fmt.Errorf("update ref %s: %w", branch, err)
	}

	return nil
}

// ListBranches returns every local branch name (without the refs/heads/
// prefix) currently in the store.
func (r *Repository) ListBranches() ([]string, error) {
	iter, err := r.repo.NewReferenceIteratorGlob("refs/heads/*")
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer iter.Free()

	var names []string

	for {
		ref, nextErr := iter.Next()
		if nextErr != nil {
			break
		}

		names = append(names, ref.Name()[len("refs/heads/"):])
		ref.Free()
	}

	return names, nil
}

// ResolveBlobHash resolves path in the tree of the given commit to the blob
// hash it names, without reading the blob's contents. Callers that maintain
// their own blob cache use this to check for a hit before paying for a
// libgit2 blob lookup.
func (r *Repository) ResolveBlobHash(commitHash Hash, path string) (Hash, error) {
	commit, err := r.repo.LookupCommit(commitHash.ToOid())
	if err != nil {
		return Hash{}, fmt.Errorf("lookup commit: %w", err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return Hash{}, fmt.Errorf("commit tree: %w", err)
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(path)
	if err != nil {
		return Hash{}, fmt.Errorf("entry %s not found in commit %s: %w", path, commitHash, err)
	}

	return HashFromOid(entry.Id), nil
}

// ReadPath reads the blob contents at path in the tree of the given commit.
func (r *Repository) ReadPath(commitHash Hash, path string) ([]byte, error) {
	commit, err := r.repo.LookupCommit(commitHash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("commit tree: %w", err)
	}
	defer tree.Free()

	entry, err := tree.EntryByPath(path)
	if err != nil {
		return nil, fmt.Errorf("entry %s not found in commit %s: %w", path, commitHash, err)
	}

	blob, err := r.repo.LookupBlob(entry.Id)
	if err != nil {
		return nil, fmt.Errorf("lookup blob for %s: %w", path, err)
	}
	defer blob.Free()

	data := blob.Contents()
	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// ReadTreeEntries lists the top-level entries in a commit's tree.
func (r *Repository) ReadTreeEntries(commitHash Hash) ([]FlatTreeEntry, error) {
	commit, err := r.repo.LookupCommit(commitHash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}
	defer commit.Free()

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("commit tree: %w", err)
	}
	defer tree.Free()

	count := tree.EntryCount()
	out := make([]FlatTreeEntry, 0, count)

	for i := uint64(0); i < count; i++ {
		entry := tree.EntryByIndex(i)
		if entry == nil {
			continue
		}

		out = append(out, FlatTreeEntry{Name: entry.Name, Id: entry.Id, Filemode: entry.Filemode})
	}

	return out, nil
}

// FlatTreeEntry is a lightweight, copy-safe view of one top-level tree entry.
type FlatTreeEntry struct {
	Name     string
	Id       *git2go.Oid
	Filemode git2go.Filemode
}

// Hash returns the entry's object hash.
func (e FlatTreeEntry) Hash() Hash { return HashFromOid(e.Id) }

// InitBare creates a new bare repository at path.
func InitBare(path string) (*Repository, error) {
	repo, err := git2go.InitRepository(path, true)
	if err != nil {
		return nil, fmt.Errorf("init bare repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// refName maps a branch shortname to its full refs/heads/ reference name.
func refName(branch string) string {
	return "refs/heads/" + branch
}

// NormalizeTimestamp rounds t to the second, as required for deterministic
// commit id derivation (fractional seconds are not part of the canonical
// preamble).
func NormalizeTimestamp(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
