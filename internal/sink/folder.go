package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sigil-systems/ingestord/internal/model"
)

// FolderSink writes batches as newline-delimited CanonicalLog JSON
// files under a directory, optionally gzip-compressed, using an atomic
// temp-file-then-rename write so a reader never observes a partial
// file.
type FolderSink struct {
	sourceName  string
	path        string
	compression model.Compression
	gzipLevel   int
	sequence    atomic.Uint64
}

// NewFolderSink builds a Folder sink delivering to target under the
// display name sourceName, used in output filenames.
func NewFolderSink(sourceName string, target model.FolderTarget) *FolderSink {
	level := target.GzipLevel
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &FolderSink{
		sourceName:  sourceName,
		path:        target.Path,
		compression: target.Compression,
		gzipLevel:   level,
	}
}

// Deliver writes batch to a new file named
// <source_name>_<UTC-ms>_<sequence>.json[.gz]. The sequence disambiguates
// files written within the same millisecond.
func (f *FolderSink) Deliver(ctx context.Context, batch []model.CanonicalLog) error {
	if len(batch) == 0 {
		return nil
	}

	if err := os.MkdirAll(f.path, 0o755); err != nil {
		return Permanent(fmt.Errorf("create folder sink directory %s: %w", f.path, err))
	}

	payload, err := model.MarshalNDJSON(batch)
	if err != nil {
		return Permanent(fmt.Errorf("marshal batch: %w", err))
	}

	name := f.filename()
	finalPath := filepath.Join(f.path, name)

	tmp, err := os.CreateTemp(f.path, ".sink-*.tmp")
	if err != nil {
		return classifyWriteError(err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer, closeWriter, err := f.wrap(tmp)
	if err != nil {
		tmp.Close()
		return Permanent(err)
	}

	if _, err := writer.Write(payload); err != nil {
		closeWriter()
		tmp.Close()
		return classifyWriteError(err)
	}
	if err := closeWriter(); err != nil {
		tmp.Close()
		return classifyWriteError(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return classifyWriteError(err)
	}
	if err := tmp.Close(); err != nil {
		return classifyWriteError(err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// wrap returns a writer over w — gzip when configured, w itself
// otherwise — and a close function that must be called before w.Close.
func (f *FolderSink) wrap(w *os.File) (interface{ Write([]byte) (int, error) }, func() error, error) {
	if f.compression != model.CompressionGzip {
		return w, func() error { return nil }, nil
	}
	gz, err := gzip.NewWriterLevel(w, f.gzipLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("create gzip writer: %w", err)
	}
	return gz, gz.Close, nil
}

func (f *FolderSink) filename() string {
	ext := ".json"
	if f.compression == model.CompressionGzip {
		ext = ".json.gz"
	}
	seq := f.sequence.Add(1)
	return fmt.Sprintf("%s_%d_%d%s", f.sourceName, time.Now().UnixMilli(), seq, ext)
}

// Close releases no held resources; the Folder sink opens and closes a
// file handle per batch.
func (f *FolderSink) Close() error { return nil }

// classifyWriteError splits filesystem errors per §7's sink taxonomy:
// an unwritable path (permission denied) will not resolve itself on
// retry, so it's permanent. Everything else — ENOSPC, transient I/O
// errors — is expected to clear with an operator fix or a retry.
func classifyWriteError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return Permanent(err)
	}
	return Transient(err)
}
