// Package push owns the approve-and-push path: the canonical export record,
// the atomic dropzone writer and the optional ERP acknowledgement poller.
package push

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// DropzoneWriter is the export transport port. Implementations exist for
// the local filesystem here; SFTP and SMB writers satisfy the same port.
type DropzoneWriter interface {
	// WriteAtomic makes the file visible under its final name only once it
	// is fully written and durable.
	WriteAtomic(ctx context.Context, name string, data []byte) error
	ListAcks(ctx context.Context, prefix string) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}

// FSDropzone writes exports into a local directory, acknowledgements are
// read from a sibling ack directory.
type FSDropzone struct {
	Dir    string
	AckDir string
}

func NewFSDropzone(dir, ackDir string) (*FSDropzone, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dropzone: create dir: %w", err)
	}
	if ackDir != "" {
		if err := os.MkdirAll(ackDir, 0o755); err != nil {
			return nil, fmt.Errorf("dropzone: create ack dir: %w", err)
		}
	}
	return &FSDropzone{Dir: dir, AckDir: ackDir}, nil
}

// WriteAtomic writes to <name>.tmp, fsyncs, then renames. A crash leaves
// either no file or the complete file, never a torn one.
func (d *FSDropzone) WriteAtomic(_ context.Context, name string, data []byte) error {
	final := filepath.Join(d.Dir, name)
	tmp := final + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open tmp: %v", model.ErrDropzoneWrite, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write: %v", model.ErrDropzoneWrite, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: fsync: %v", model.ErrDropzoneWrite, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: close: %v", model.ErrDropzoneWrite, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: rename: %v", model.ErrDropzoneWrite, err)
	}
	return nil
}

func (d *FSDropzone) ListAcks(_ context.Context, prefix string) ([]string, error) {
	if d.AckDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(d.AckDir)
	if err != nil {
		return nil, fmt.Errorf("dropzone: list acks: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if prefix == "" || strings.HasPrefix(e.Name(), prefix) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *FSDropzone) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.AckDir, name))
	if err != nil {
		return nil, fmt.Errorf("dropzone: read ack: %w", err)
	}
	return data, nil
}

func (d *FSDropzone) Delete(_ context.Context, name string) error {
	if err := os.Remove(filepath.Join(d.AckDir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dropzone: delete ack: %w", err)
	}
	return nil
}
