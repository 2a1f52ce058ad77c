package checkpoint

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// Writer appends rows to a checkpoint file. It is not safe for
// concurrent use; the evaluator funnels all rows through a single
// goroutine.
type Writer struct {
	path    string
	metrics []string
	header  []string

	file *os.File
	csv  *csv.Writer

	// fsync forces an fsync after every row when set.
	fsync bool

	// buffered defers flushing to Close instead of per row.
	buffered bool
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithFsync makes the writer fsync after every appended row.
func WithFsync() WriterOption {
	return func(w *Writer) {
		w.fsync = true
	}
}

// WithBufferedWrites defers flushing to Close. Faster, but a crash can
// lose buffered rows.
func WithBufferedWrites() WriterOption {
	return func(w *Writer) {
		w.buffered = true
	}
}

// NewWriter opens (or creates) the checkpoint at path for appending.
// An empty or new file gets the header for metrics; an existing file's
// header must match exactly or ErrHeaderMismatch is returned.
func NewWriter(path string, metrics []string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		path:    path,
		metrics: slices.Clone(metrics),
		header:  Header(metrics),
	}

	for _, opt := range opts {
		opt(w)
	}

	mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755)
	if mkdirErr != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", mkdirErr)
	}

	existing, statErr := existingHeader(path)
	if statErr != nil {
		return nil, statErr
	}

	if existing != nil && !slices.Equal(existing, w.header) {
		return nil, fmt.Errorf("%w: %s", ErrHeaderMismatch, path)
	}

	file, openErr := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, openErr)
	}

	w.file = file
	w.csv = csv.NewWriter(file)

	if existing == nil {
		writeErr := w.csv.Write(w.header)
		if writeErr == nil {
			w.csv.Flush()
			writeErr = w.csv.Error()
		}

		if writeErr != nil {
			_ = file.Close()

			return nil, fmt.Errorf("write checkpoint header: %w", writeErr)
		}
	}

	return w, nil
}

// Path returns the checkpoint file path.
func (w *Writer) Path() string {
	return w.path
}

// Metrics returns the metric names the checkpoint records, in header
// order.
func (w *Writer) Metrics() []string {
	return slices.Clone(w.metrics)
}

// Append serializes the row and, unless buffered, flushes it to disk
// immediately so a crash loses at most the in-flight row.
func (w *Writer) Append(row Row) error {
	record, recErr := row.Record(w.metrics)
	if recErr != nil {
		return fmt.Errorf("serialize row %s: %w", row.ItemID, recErr)
	}

	writeErr := w.csv.Write(record)
	if writeErr == nil && !w.buffered {
		w.csv.Flush()
		writeErr = w.csv.Error()
	}

	if writeErr != nil {
		return fmt.Errorf("append row %s: %w", row.ItemID, writeErr)
	}

	if w.fsync {
		syncErr := w.file.Sync()
		if syncErr != nil {
			return fmt.Errorf("sync checkpoint: %w", syncErr)
		}
	}

	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.csv.Flush()

	flushErr := w.csv.Error()
	closeErr := w.file.Close()

	if flushErr != nil {
		return fmt.Errorf("flush checkpoint: %w", flushErr)
	}

	if closeErr != nil {
		return fmt.Errorf("close checkpoint: %w", closeErr)
	}

	return nil
}

// existingHeader reads the header row of an existing non-empty file.
// It returns nil when the file is absent or empty.
func existingHeader(path string) ([]string, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return nil, nil
		}

		return nil, fmt.Errorf("open checkpoint %s: %w", path, openErr)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, readErr := reader.Read()
	if readErr == io.EOF {
		return nil, nil
	}

	if readErr != nil {
		return nil, fmt.Errorf("read checkpoint header %s: %w", path, readErr)
	}

	return header, nil
}
