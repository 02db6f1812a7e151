package erebus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/climate-health/chap/pkg/hermes"
)

// CompressedSuffix is appended to keys of zstd compressed artifacts.
const CompressedSuffix = ".zst"

// ErrArtifactExists is returned when an export would overwrite an artifact.
var ErrArtifactExists = errors.New("artifact already exists")

// Artifact is one named output of a run.
type Artifact struct {
	Key   string
	Write func(io.Writer) error
}

// Exporter streams generated artifacts into a Store.
type Exporter struct {
	store    Store
	compress bool
	logger   *slog.Logger
}

func NewExporter(store Store, compress bool, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = hermes.DiscardLogger()
	}
	return &Exporter{store: store, compress: compress, logger: logger}
}

func (e *Exporter) storedKey(key string) string {
	if e.compress && !strings.HasSuffix(key, CompressedSuffix) {
		return key + CompressedSuffix
	}
	return key
}

// ExportAll writes every artifact in order. Nothing is written if any of the
// keys already exists, and artifacts written before a failure are removed.
func (e *Exporter) ExportAll(ctx context.Context, artifacts ...Artifact) ([]string, error) {
	for _, a := range artifacts {
		key := e.storedKey(a.Key)
		exists, err := e.store.Exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", key, err)
		}
		if exists {
			return nil, fmt.Errorf("export %s: %w", key, ErrArtifactExists)
		}
	}

	written := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		key, err := e.Export(ctx, a.Key, a.Write)
		if err != nil {
			e.rollback(written)
			return nil, err
		}
		written = append(written, key)
	}
	return written, nil
}

func (e *Exporter) rollback(keys []string) {
	for _, key := range keys {
		if err := e.store.Delete(context.Background(), key); err != nil {
			e.logger.Warn("failed to remove partial export", "key", key, "error", err)
		}
	}
}

// Export stores whatever write produces under key and returns the final key,
// which carries CompressedSuffix when compression is enabled.
func (e *Exporter) Export(ctx context.Context, key string, write func(io.Writer) error) (string, error) {
	key = e.storedKey(key)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- e.produce(pw, write)
	}()

	if err := e.store.Put(ctx, key, pr); err != nil {
		pr.CloseWithError(err)
		<-done
		return "", fmt.Errorf("export %s: %w", key, err)
	}
	if err := <-done; err != nil {
		return "", fmt.Errorf("export %s: %w", key, err)
	}

	e.logger.Info("artifact exported", "key", key, "compressed", e.compress)
	return key, nil
}

func (e *Exporter) produce(pw *io.PipeWriter, write func(io.Writer) error) (err error) {
	defer func() { pw.CloseWithError(err) }()

	if !e.compress {
		return write(pw)
	}
	enc, err := zstd.NewWriter(pw)
	if err != nil {
		return err
	}
	if err := write(enc); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// Open reads back an exported artifact, decompressing zstd keys. A key given
// without CompressedSuffix also finds its compressed variant.
func (e *Exporter) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if !strings.HasSuffix(key, CompressedSuffix) {
		compressed, err := e.store.Exists(ctx, key+CompressedSuffix)
		if err != nil {
			return nil, err
		}
		if compressed {
			key += CompressedSuffix
		}
	}
	rc, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(key, CompressedSuffix) {
		return rc, nil
	}
	dec, err := zstd.NewReader(rc)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &decodedReader{ReadCloser: dec.IOReadCloser(), source: rc}, nil
}

type decodedReader struct {
	io.ReadCloser
	source io.Closer
}

func (r *decodedReader) Close() error {
	r.ReadCloser.Close()
	return r.source.Close()
}
