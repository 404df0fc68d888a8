// Package publish serializes the canonical tree, writes it atomically to
// the primary document path, and keeps the visualizer's mirror in sync.
package publish

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xxllxllxlllx/live-graph-system/internal/graph"
	"github.com/xxllxllxlllx/live-graph-system/internal/metrics"
)

// Hasher digests document bytes for mirror change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// SyncStatus reports the outcome of one mirror pass.
type SyncStatus struct {
	PrimaryExists bool `json:"primary_exists"`
	MirrorExists  bool `json:"mirror_exists"`
	HashesEqual   bool `json:"hashes_equal"`
}

// Publisher owns all writes to the primary and mirror documents.
type Publisher struct {
	mu      sync.Mutex
	primary string
	mirror  string
	hasher  Hasher
	logger  *zap.Logger
}

// New builds a Publisher for the two document paths.
func New(primary, mirror string, hasher Hasher, logger *zap.Logger) *Publisher {
	return &Publisher{
		primary: primary,
		mirror:  mirror,
		hasher:  hasher,
		logger:  logger.Named("publisher"),
	}
}

// PrimaryPath returns the primary document path.
func (p *Publisher) PrimaryPath() string { return p.primary }

// Publish serializes the tree and replaces both documents atomically.
// A failed write is retried once before the error escapes.
func (p *Publisher) Publish(tree *graph.Node) error {
	data, err := encode(tree)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.writeWithRetry(p.primary, data); err != nil {
		return fmt.Errorf("publish primary: %w", err)
	}
	if err := p.writeWithRetry(p.mirror, data); err != nil {
		return fmt.Errorf("publish mirror: %w", err)
	}
	metrics.ObservePublish()
	return nil
}

// Reset truncates both documents to the empty tree.
func (p *Publisher) Reset() error {
	return p.Publish(graph.EmptyDocument())
}

// ReadPrimary returns the current bytes of the primary document.
func (p *Publisher) ReadPrimary() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := os.ReadFile(p.primary)
	if err != nil {
		return nil, fmt.Errorf("read primary: %w", err)
	}
	return data, nil
}

// SyncNow copies the primary to the mirror when their hashes differ and
// reports the resulting state.
func (p *Publisher) SyncNow() (SyncStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var status SyncStatus
	primaryData, err := os.ReadFile(p.primary)
	if err != nil {
		if os.IsNotExist(err) {
			status.MirrorExists = fileExists(p.mirror)
			metrics.ObserveMirrorSync("missing_primary")
			return status, nil
		}
		metrics.ObserveMirrorSync("error")
		return status, fmt.Errorf("read primary: %w", err)
	}
	status.PrimaryExists = true

	primaryHash, err := p.hasher.Hash(primaryData)
	if err != nil {
		metrics.ObserveMirrorSync("error")
		return status, fmt.Errorf("hash primary: %w", err)
	}

	mirrorData, err := os.ReadFile(p.mirror)
	if err == nil {
		status.MirrorExists = true
		mirrorHash, herr := p.hasher.Hash(mirrorData)
		if herr == nil && mirrorHash == primaryHash {
			status.HashesEqual = true
			metrics.ObserveMirrorSync("unchanged")
			return status, nil
		}
	} else if !os.IsNotExist(err) {
		metrics.ObserveMirrorSync("error")
		return status, fmt.Errorf("read mirror: %w", err)
	}

	if err := p.writeWithRetry(p.mirror, primaryData); err != nil {
		metrics.ObserveMirrorSync("error")
		return status, fmt.Errorf("sync mirror: %w", err)
	}
	status.MirrorExists = true
	status.HashesEqual = true
	metrics.ObserveMirrorSync("copied")
	p.logger.Info("mirror updated", zap.String("path", p.mirror))
	return status, nil
}

func (p *Publisher) writeWithRetry(path string, data []byte) error {
	if err := writeAtomic(path, data); err != nil {
		p.logger.Warn("atomic write failed; retrying", zap.String("path", path), zap.Error(err))
		return writeAtomic(path, data)
	}
	return nil
}

// writeAtomic replaces path via write-temp-then-rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".publish-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// encode marshals the tree with the stable key order and a trailing
// newline.
func encode(tree *graph.Node) ([]byte, error) {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tree: %w", err)
	}
	return append(data, '\n'), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
