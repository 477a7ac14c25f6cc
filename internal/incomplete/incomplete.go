// Package incomplete persists the forensic breadcrumb spec §7 calls an
// "incomplete-ingest marker": a record, spilled to
// <repo>/.bunsen-incomplete/<bunsen_commit_id>.marker, of an ingest that
// advanced the testlogs ref but failed before finishing the
// FullTestrunFile and/or IndexFile writes. repair heals the underlying
// inconsistency by re-walking testlogs history regardless of whether a
// marker exists (a crash can happen before the marker itself is written),
// so a marker is not load-bearing for correctness — it lets an operator
// see, without a full repo scan, which commit a given crash left behind,
// and lets repair clean up the breadcrumb once it has healed that commit.
package incomplete

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/bunsen-project/bunsen/internal/bunsenerr"
)

// dirName is the marker spill directory, relative to the repository root.
const dirName = ".bunsen-incomplete"

// headerSize is the byte width of the fixed header written ahead of the
// marker payload: a 1-byte encoding flag plus a 4-byte uncompressed
// length, since the LZ4 block format carries neither on its own.
const headerSize = 5

// Encoding flags, stored as the header's first byte.
const (
	encodingRaw = 0
	encodingLZ4 = 1
)

// Marker records enough of an in-flight ingest to identify what a crash
// left unfinished: the commit id whose testlogs ref has already advanced,
// which testruns branch and index file still need writing, and the
// assembled testrun record ingest was about to write.
type Marker struct {
	BunsenCommitID string         `json:"bunsen_commit_id"`
	Project        string         `json:"project"`
	TestlogsBranch string         `json:"testlogs_branch"`
	TestrunsBranch string         `json:"testruns_branch"`
	IndexName      string         `json:"index_name"`
	Summary        map[string]any `json:"summary"`
}

// Write spills m to its marker file under dir, LZ4-block-compressed (or raw
// when LZ4 cannot shrink it) behind the encoding header, and returns the
// path written.
func Write(dir string, m Marker) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", bunsenerr.Wrap(bunsenerr.KindStoreIO, "marshal incomplete-ingest marker", err)
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))

	written, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return "", bunsenerr.Wrap(bunsenerr.KindStoreIO, "compress incomplete-ingest marker", err)
	}

	var payload []byte

	if written == 0 {
		// lz4 returns 0 when the input is incompressible; store it raw
		// rather than force a block that wouldn't shrink it.
		payload = make([]byte, headerSize+len(raw))
		payload[0] = encodingRaw
		binary.LittleEndian.PutUint32(payload[1:], uint32(len(raw)))
		copy(payload[headerSize:], raw)
	} else {
		payload = make([]byte, headerSize+written)
		payload[0] = encodingLZ4
		binary.LittleEndian.PutUint32(payload[1:], uint32(len(raw)))
		copy(payload[headerSize:], compressed[:written])
	}

	path := markerPath(dir, m.BunsenCommitID)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", bunsenerr.Wrap(bunsenerr.KindStoreIO, "create incomplete-ingest marker directory", err)
	}

	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", bunsenerr.Wrap(bunsenerr.KindStoreIO, "write incomplete-ingest marker "+path, err)
	}

	return path, nil
}

// Read loads and decompresses the marker for id under dir.
func Read(dir, id string) (Marker, error) {
	path := markerPath(dir, id)

	payload, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, bunsenerr.Wrap(bunsenerr.KindNotFound, "read incomplete-ingest marker "+path, err)
	}

	if len(payload) < headerSize {
		return Marker{}, bunsenerr.New(bunsenerr.KindStoreIO, "truncated incomplete-ingest marker "+path)
	}

	encoding := payload[0]
	rawLen := binary.LittleEndian.Uint32(payload[1:headerSize])
	body := payload[headerSize:]

	var raw []byte

	switch encoding {
	case encodingRaw:
		raw = body
	case encodingLZ4:
		raw = make([]byte, rawLen)

		if _, err := lz4.UncompressBlock(body, raw); err != nil {
			return Marker{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "decompress incomplete-ingest marker "+path, err)
		}
	default:
		return Marker{}, bunsenerr.New(bunsenerr.KindStoreIO, "unknown incomplete-ingest marker encoding in "+path)
	}

	var m Marker
	if err := json.Unmarshal(raw, &m); err != nil {
		return Marker{}, bunsenerr.Wrap(bunsenerr.KindStoreIO, "parse incomplete-ingest marker "+path, err)
	}

	return m, nil
}

// List returns the bunsen_commit_ids of every marker currently spilled
// under dir. Absent directories are reported as no markers, not an error.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, dirName))
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, bunsenerr.Wrap(bunsenerr.KindStoreIO, "list incomplete-ingest markers", err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if id, ok := strings.CutSuffix(entry.Name(), ".marker"); ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// Remove deletes the marker for id under dir, tolerating one that is
// already gone.
func Remove(dir, id string) error {
	err := os.Remove(markerPath(dir, id))
	if err != nil && !os.IsNotExist(err) {
		return bunsenerr.Wrap(bunsenerr.KindStoreIO, "remove incomplete-ingest marker", err)
	}

	return nil
}

func markerPath(dir, id string) string {
	return filepath.Join(dir, dirName, fmt.Sprintf("%s.marker", id))
}
