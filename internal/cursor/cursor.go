// Package cursor implements stable references into stored log blobs:
// (blob identity, line range) tuples with a textual serialization form,
// per the engine's cursor subsystem.
package cursor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a cursor string does not match the
// serialization grammar.
var ErrMalformed = errors.New("malformed cursor")

// serializedForm matches "[<branch>:<bunsen_commit_id>:]<path>:<start>[-<end>]".
// The branch and commit id are only present together; the path itself may
// contain colons (DejaGNU log paths rarely do, but the grammar is
// permissive), so the expression anchors on the trailing ":<start>[-<end>]".
var serializedForm = regexp.MustCompile(`^(?:([^:]+):([0-9a-fA-F]+):)?(.+):(\d+)(?:-(\d+))?$`)

// Cursor is a stable reference (branch, bunsen_commit_id, path, line range)
// into a stored log blob. Branch and CommitID are optional: an abbreviated
// cursor omits them when the surrounding context (a testrun) already
// supplies them.
type Cursor struct {
	Branch    string
	CommitID  string
	Path      string
	Start     int
	End       int
	Truncated bool
}

// Parse decodes a cursor's textual form.
func Parse(s string) (Cursor, error) {
	m := serializedForm.FindStringSubmatch(s)
	if m == nil {
		return Cursor{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}

	start, err := strconv.Atoi(m[4])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: bad start line in %q", ErrMalformed, s)
	}

	end := start
	if m[5] != "" {
		end, err = strconv.Atoi(m[5])
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: bad end line in %q", ErrMalformed, s)
		}
	}

	if start > end {
		return Cursor{}, fmt.Errorf("%w: start %d > end %d in %q", ErrMalformed, start, end, s)
	}

	return Cursor{
		Branch:   m[1],
		CommitID: m[2],
		Path:     m[3],
		Start:    start,
		End:      end,
	}, nil
}

// String renders the cursor's canonical textual form. When Branch/CommitID
// are empty, it emits the abbreviated "<path>:<start>[-<end>]" form.
func (c Cursor) String() string {
	var b strings.Builder

	if c.Branch != "" && c.CommitID != "" {
		b.WriteString(c.Branch)
		b.WriteByte(':')
		b.WriteString(c.CommitID)
		b.WriteByte(':')
	}

	b.WriteString(c.Path)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.Start))

	if c.End != c.Start {
		b.WriteByte('-')
		b.WriteString(strconv.Itoa(c.End))
	}

	return b.String()
}

// WithContext returns a copy of c with Branch/CommitID filled in from the
// surrounding testrun when c itself did not specify them.
func (c Cursor) WithContext(branch, commitID string) Cursor {
	if c.Branch != "" && c.CommitID != "" {
		return c
	}

	out := c
	out.Branch = branch
	out.CommitID = commitID

	return out
}

// Resolve slices the (start, end) line range (1-indexed, inclusive) out of
// data, which is interpreted as '\n'-separated lines with a trailing empty
// line dropped. Out-of-range bounds clamp to the available lines and the
// returned Cursor has Truncated set.
func Resolve(c Cursor, data []byte) (string, Cursor) {
	lines := splitLines(data)

	result := c
	start, end := c.Start, c.End

	if start < 1 {
		start = 1
		result.Truncated = true
	}

	if end > len(lines) {
		end = len(lines)
		result.Truncated = true
	}

	if start > end || len(lines) == 0 {
		result.Start, result.End = start, end

		return "", result
	}

	result.Start, result.End = start, end

	return strings.Join(lines[start-1:end], "\n"), result
}

// splitLines splits data on '\n' and drops a single trailing empty line,
// matching the engine's line-splitting rule for log blobs.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}

	text := string(data)

	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	return lines
}
