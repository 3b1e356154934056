// Package decoder turns uploaded files into datasets. Delimited text, JSON
// and Parquet are read through DuckDB; spreadsheets through excelize.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/leapstack-labs/datalens/internal/adapter"
	"github.com/leapstack-labs/datalens/internal/dataset"
)

// ErrUnsupportedFileType is returned for files whose kind cannot be decoded.
var ErrUnsupportedFileType = errors.New("unsupported file type")

// extensions maps lower-case file extensions to file kinds.
var extensions = map[string]dataset.FileKind{
	".csv":     dataset.FileCSV,
	".tsv":     dataset.FileTSV,
	".xlsx":    dataset.FileExcel,
	".json":    dataset.FileJSON,
	".parquet": dataset.FileParquet,
}

// Extensions returns the supported file extensions in a stable order.
func Extensions() []string {
	return []string{".csv", ".tsv", ".xlsx", ".json", ".parquet"}
}

// DetectFileKind maps a filename to its kind by extension.
func DetectFileKind(filename string) (dataset.FileKind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	kind, ok := extensions[ext]
	if !ok {
		if ext == "" {
			ext = "(none)"
		}
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, ext)
	}
	return kind, nil
}

// Decoder reads files into datasets. It owns one DuckDB connection.
type Decoder struct {
	duck   *adapter.DuckDB
	logger *slog.Logger

	// mu serializes DuckDB reads; each decode is a single scan and the
	// connection is in-memory.
	mu sync.Mutex
}

// New creates a decoder backed by a DuckDB connection built from cfg.
func New(ctx context.Context, cfg adapter.Config, logger *slog.Logger) (*Decoder, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	duck := adapter.NewDuckDB(logger)
	if err := duck.Connect(ctx, cfg); err != nil {
		return nil, err
	}
	return &Decoder{duck: duck, logger: logger}, nil
}

// Close releases the DuckDB connection.
func (d *Decoder) Close() error {
	return d.duck.Close()
}

// Decode reads the file at path as the given kind.
func (d *Decoder) Decode(ctx context.Context, path string, kind dataset.FileKind) (*dataset.Dataset, error) {
	start := time.Now()

	var ds *dataset.Dataset
	var err error
	switch kind {
	case dataset.FileCSV:
		ds, err = d.read(ctx, adapter.ReadCSV(path, ','))
	case dataset.FileTSV:
		ds, err = d.read(ctx, adapter.ReadCSV(path, '\t'))
	case dataset.FileJSON:
		ds, err = d.read(ctx, adapter.ReadJSON(path))
	case dataset.FileParquet:
		ds, err = d.read(ctx, adapter.ReadParquet(path))
	case dataset.FileExcel:
		ds, err = DecodeExcel(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s file %s: %w", kind, filepath.Base(path), err)
	}

	d.logger.Debug("file decoded",
		"kind", kind,
		"rows", ds.NumRows(),
		"columns", ds.NumCols(),
		"elapsed", time.Since(start))
	return ds, nil
}

func (d *Decoder) read(ctx context.Context, source string) (*dataset.Dataset, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.duck.ReadDataset(ctx, source)
}
