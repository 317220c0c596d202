// Package runlog persists one record per claimed digest run so that
// concurrent scheduler instances never process the same time window twice.
// Records are created by an atomic insert-if-absent claim, never updated,
// and deleted by a background prune once older than the retention window.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Run is the persisted claim record for one digest time window.
type Run struct {
	FromDT  time.Time `json:"from_dt"`
	ToDT    time.Time `json:"to_dt"`
	Node    string    `json:"node"`
	Created time.Time `json:"created"`
}

// Store claims digest runs. Exactly one of the concurrent claimants for a
// given window wins; everyone else gets false.
type Store interface {
	// Claim atomically records (from, to) as claimed by node. It returns
	// true if this call created the record, false if the window was
	// already claimed. An error means the store itself failed, which is
	// distinct from losing the claim.
	Claim(ctx context.Context, from, to time.Time, node string) (bool, error)
	// Prune deletes run records older than the given number of days.
	// Maintenance only; it returns how many records were removed.
	Prune(ctx context.Context, olderThanDays int) (int, error)
}

// runKey names the stored object for a window. The object name is the
// uniqueness constraint: one window, one possible name.
func runKey(from, to time.Time) string {
	const layout = "20060102T150405Z"
	return fmt.Sprintf("run-%s-%s.json", from.UTC().Format(layout), to.UTC().Format(layout))
}

// GCS is the production Store, backed by a Cloud Storage bucket. The claim
// uses a DoesNotExist precondition so the bucket enforces uniqueness across
// nodes; there is no check-then-insert window.
type GCS struct {
	client *storage.Client
	logger *slog.Logger
	bucket string
}

// NewGCS creates a Cloud Storage backed run store.
func NewGCS(client *storage.Client, bucket string, logger *slog.Logger) *GCS {
	return &GCS{client: client, bucket: bucket, logger: logger}
}

// Claim implements Store.
func (s *GCS) Claim(ctx context.Context, from, to time.Time, node string) (bool, error) {
	key := runKey(from, to)
	data, err := json.MarshalIndent(Run{
		FromDT:  from.UTC(),
		ToDT:    to.UTC(),
		Node:    node,
		Created: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal run record: %w", err)
	}

	obj := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil && !isPreconditionFailed(closeErr) {
			s.logger.Warn("Failed to close writer after error", "error", closeErr)
		}
		return false, fmt.Errorf("write run record: %w", err)
	}
	if err := w.Close(); err != nil {
		// Precondition failure means another node inserted the record
		// first. That is the normal already-claimed signal, not an error.
		if isPreconditionFailed(err) {
			s.logger.Info("Run already claimed", "key", key, "node", node)
			return false, nil
		}
		return false, fmt.Errorf("commit run record: %w", err)
	}

	s.logger.Info("Run claimed", "key", key, "node", node)
	return true, nil
}

// Prune implements Store. Records are never updated, so the object creation
// time is the claim time.
func (s *GCS) Prune(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: "run-"})

	var removed int
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("iterate run records: %w", err)
		}
		if !attrs.Created.Before(cutoff) {
			continue
		}
		if err := s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx); err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				continue // another pruner got there first
			}
			return removed, fmt.Errorf("delete run record %s: %w", attrs.Name, err)
		}
		removed++
	}

	s.logger.Info("Pruned old run records", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return removed, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// Local is a filesystem Store for development. O_EXCL file creation gives
// the same insert-if-absent semantics on a single host.
type Local struct {
	logger *slog.Logger
	dir    string
}

// NewLocal creates a local run store rooted at dir.
func NewLocal(dir string, logger *slog.Logger) *Local {
	return &Local{dir: dir, logger: logger}
}

// Claim implements Store.
func (s *Local) Claim(ctx context.Context, from, to time.Time, node string) (bool, error) {
	key := runKey(from, to)
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			s.logger.Info("Run already claimed", "key", key, "node", node)
			return false, nil
		}
		return false, fmt.Errorf("create run record: %w", err)
	}

	data, err := json.MarshalIndent(Run{
		FromDT:  from.UTC(),
		ToDT:    to.UTC(),
		Node:    node,
		Created: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("Failed to close run record after error", "error", closeErr)
		}
		return false, fmt.Errorf("marshal run record: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			s.logger.Warn("Failed to close run record after error", "error", closeErr)
		}
		return false, fmt.Errorf("write run record: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("close run record: %w", err)
	}

	s.logger.Info("Run claimed", "key", key, "node", node)
	return true, nil
}

// Prune implements Store.
func (s *Local) Prune(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read run record directory: %w", err)
	}

	var removed int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "run-") || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("Failed to read run record", "file", entry.Name(), "error", err)
			continue
		}
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			s.logger.Warn("Failed to decode run record", "file", entry.Name(), "error", err)
			continue
		}
		if !run.Created.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("delete run record %s: %w", entry.Name(), err)
		}
		removed++
	}

	s.logger.Info("Pruned old run records", "removed", removed, "cutoff", cutoff.Format(time.RFC3339))
	return removed, nil
}
