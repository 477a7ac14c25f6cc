package gitlib

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bunsen-project/bunsen/pkg/textutil"
)

// ErrBinary is raised in CachedBlob.CountLines() if the file is binary.
var ErrBinary = errors.New("binary")

// CachedBlob caches blob data for efficient repeated access.
type CachedBlob struct {
	hash Hash
	size int64
	// Data is the read contents of the blob object.
	Data []byte
}

// NewCachedBlobFromRepo loads and caches a blob from the repository.
func NewCachedBlobFromRepo(repo *Repository, blobHash Hash) (*CachedBlob, error) {
	blob, err := repo.LookupBlob(context.Background(), blobHash)
	if err != nil {
		return nil, fmt.Errorf("looking up blob %s: %w", blobHash.String(), err)
	}
	defer blob.Free()

	return &CachedBlob{
		hash: blobHash,
		size: blob.Size(),
		Data: blob.Contents(),
	}, nil
}

// Hash returns the blob hash.
func (b *CachedBlob) Hash() Hash {
	return b.hash
}

// Size returns the blob size.
func (b *CachedBlob) Size() int64 {
	return b.size
}

// Reader returns a reader for the blob data.
func (b *CachedBlob) Reader() io.ReadCloser {
	return textutil.BytesReader(b.Data)
}

// CountLines returns the number of lines in the blob or (0, ErrBinary) if it is binary.
func (b *CachedBlob) CountLines() (int, error) {
	if b.IsBinary() {
		return 0, ErrBinary
	}

	return textutil.CountLines(b.Data), nil
}

// Clone returns a deep copy of the cached blob, safe to store independently
// of the instance it was copied from (the LRU cache keeps its own copy so a
// caller mutating a borrowed Data slice cannot corrupt the cache).
func (b *CachedBlob) Clone() *CachedBlob {
	data := make([]byte, len(b.Data))
	copy(data, b.Data)

	return &CachedBlob{hash: b.hash, size: b.size, Data: data}
}

// IsBinary returns true if the blob appears to be binary.
func (b *CachedBlob) IsBinary() bool {
	return textutil.IsBinary(b.Data)
}
