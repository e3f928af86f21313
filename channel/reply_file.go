package channel

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/retort-io/retort/iox"
	"github.com/retort-io/retort/types"
)

// ReplyWriter is the executor-owned, append-only half of the channel.
// Each record is appended with a single flushed write so a concurrent
// reader never sees a half-written record as a complete line.
type ReplyWriter struct {
	path string
	file *os.File
}

// NewReplyWriter opens the reply file for appending.
func NewReplyWriter(path string) (*ReplyWriter, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open reply file %s: %w", path, err)
	}
	return &ReplyWriter{path: path, file: file}, nil
}

// Append writes one reply record and flushes it.
func (w *ReplyWriter) Append(r *types.Reply) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid reply kind %q", r.Kind)
	}
	if _, err := w.file.WriteString(EncodeReply(r) + "\n"); err != nil {
		return fmt.Errorf("append reply %d %s: %w", r.Sequence, r.Kind, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync reply file %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *ReplyWriter) Close() error {
	return w.file.Close()
}

// ReplyReader reads the full reply file on every poll. The legacy
// instrument application writes the reply file in UTF-16; a BOM override
// decoder accepts both that and plain UTF-8 transparently.
type ReplyReader struct {
	path string
}

// NewReplyReader creates a reply reader for the given path.
func NewReplyReader(path string) *ReplyReader {
	return &ReplyReader{path: path}
}

// ReadAll parses every complete reply record currently in the file, in
// append order. Malformed lines and the unterminated trailing line are
// skipped, not errors: their writer may be mid-write. The skipped count is
// reported so callers can meter malformed reads.
func (r *ReplyReader) ReadAll() (replies []*types.Reply, skipped int, err error) {
	file, err := os.Open(r.path)
	if err != nil {
		return nil, 0, fmt.Errorf("open reply file %s: %w", r.path, err)
	}
	defer iox.DiscardClose(file)

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	data, err := io.ReadAll(transform.NewReader(file, decoder))
	if err != nil {
		return nil, 0, fmt.Errorf("read reply file %s: %w", r.path, err)
	}

	content := string(data)
	for {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			// Unterminated trailing line: invisible until finished.
			break
		}
		line := content[:idx]
		content = content[idx+1:]

		if strings.TrimSpace(line) == "" {
			continue
		}
		reply, perr := ParseReply(line)
		if perr != nil {
			skipped++
			continue
		}
		replies = append(replies, reply)
	}
	return replies, skipped, nil
}

// RepliesFor filters records for a single sequence, preserving append order.
func RepliesFor(replies []*types.Reply, sequence int) []*types.Reply {
	var out []*types.Reply
	for _, r := range replies {
		if r.Sequence == sequence {
			out = append(out, r)
		}
	}
	return out
}
