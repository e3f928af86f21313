package journal

import (
	"fmt"
	"io"
	"os"

	"github.com/retort-io/retort/iox"
)

// Writer appends exchange records to a journal file.
// One flushed write per frame; a reader that catches a torn tail sees a
// partial-frame error and stops there.
type Writer struct {
	path string
	file *os.File
}

// NewWriter opens (or creates) a journal file for appending.
func NewWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &Writer{path: path, file: file}, nil
}

// Append encodes and appends one exchange record.
func (w *Writer) Append(rec *ExchangeRecord) error {
	frame, err := EncodeFrame(rec)
	if err != nil {
		return err
	}
	if _, err := w.file.Write(frame); err != nil {
		return fmt.Errorf("append journal frame: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync journal %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.file.Close()
}

// ReadAll decodes every complete record in a journal file.
// A truncated tail ends the read without error; any other decode failure
// is returned along with the records read so far.
func ReadAll(path string) ([]*ExchangeRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer iox.DiscardClose(file)

	var records []*ExchangeRecord
	decoder := NewFrameDecoder(file)
	for {
		rec, err := decoder.ReadRecord()
		if err == io.EOF {
			return records, nil
		}
		if IsPartialFrame(err) {
			// Crash-truncated tail: everything before it is valid.
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
