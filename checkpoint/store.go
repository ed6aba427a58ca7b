package checkpoint

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/dshills/agentflow/corerr"
)

const (
	defaultMaxCheckpointSize     = 50 * 1024 * 1024 // 50 MiB
	defaultMaxCheckpointsPerWFL  = 10
	idCollisionRetries           = 5
)

// SaveRequest is the input to Store.Save.
type SaveRequest struct {
	WorkflowID   string
	WorkflowType string
	AgentID      string
	StageIndex   int
	Snapshot     string
	Metadata     Metadata
}

// Interface is the C1 contract. *Store is the only implementation shipped;
// it is named separately so executor/control/tests can depend on the
// interface and substitute a fake.
type Interface interface {
	Save(ctx context.Context, req SaveRequest) (*Checkpoint, error)
	Load(ctx context.Context, id string) (*Checkpoint, error)
	ListForWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error)
	GetLatest(ctx context.Context, workflowID string) (*Checkpoint, error)
	Delete(ctx context.Context, id string) error
	DeleteForWorkflow(ctx context.Context, workflowID string) (int, error)
	Statistics(ctx context.Context) (Statistics, error)
	Validate(ctx context.Context, id string) (bool, error)
}

// backend is the minimal opaque-KV surface a concrete storage medium must
// provide; Store layers id generation, size enforcement and retention on
// top of it uniformly so FileStore and MySQLStore never duplicate that
// logic.
type backend interface {
	write(ctx context.Context, cp *Checkpoint) error
	read(ctx context.Context, id string) (*Checkpoint, error)
	exists(ctx context.Context, id string) (bool, error)
	list(ctx context.Context, workflowID string) ([]*Checkpoint, error)
	all(ctx context.Context) ([]*Checkpoint, error)
	delete(ctx context.Context, id string) error
	deleteAll(ctx context.Context, workflowID string) (int, error)
}

// Store is the concrete C1 implementation. It composes a primary backend
// with an optional fallback: when fallback is non-nil, primary-write
// failures transparently retry against fallback (the
// "primary-with-file-fallback" storage_backend setting); when fallback is
// nil, Store is a plain single-backend store (the "file" setting).
type Store struct {
	primary        backend
	fallback       backend
	maxSize        int
	maxPerWorkflow int
	onFallback     func(error)
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithMaxCheckpointSize overrides the default 50 MiB snapshot size cap. A
// value of 0 disables the cap.
func WithMaxCheckpointSize(n int) Option {
	return func(s *Store) { s.maxSize = n }
}

// WithMaxCheckpointsPerWorkflow overrides the default retention cap of 10.
// 0 means unlimited.
func WithMaxCheckpointsPerWorkflow(n int) Option {
	return func(s *Store) { s.maxPerWorkflow = n }
}

// WithFallbackWarning registers a callback invoked whenever a primary-backend
// write fails and Store falls back to the secondary backend. Wiring layers
// use this to route the warning through the observer fan-out's LogObserver
// rather than calling log.Printf directly.
func WithFallbackWarning(fn func(error)) Option {
	return func(s *Store) { s.onFallback = fn }
}

func newStore(primary, fallback backend, opts ...Option) *Store {
	s := &Store{
		primary:        primary,
		fallback:       fallback,
		maxSize:        defaultMaxCheckpointSize,
		maxPerWorkflow: defaultMaxCheckpointsPerWFL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Interface = (*Store)(nil)

// Save assigns a fresh id, stamps UTC created_at, measures state_size_bytes
// as the UTF-8 byte length of snapshot, rejects oversized snapshots with
// SizeExceeded, and writes durably. On primary failure it logs a warning (via
// onFallback) and retries against the fallback backend; if both fail it
// returns StorageError. After a successful write it enforces retention.
func (s *Store) Save(ctx context.Context, req SaveRequest) (*Checkpoint, error) {
	size := len(req.Snapshot)
	if s.maxSize > 0 && size > s.maxSize {
		return nil, corerr.Newf(corerr.SizeExceeded, "snapshot is %d bytes, exceeds max_checkpoint_size_bytes=%d", size, s.maxSize)
	}

	id, err := s.allocateID(ctx)
	if err != nil {
		return nil, err
	}

	cp := &Checkpoint{
		ID:             id,
		WorkflowID:     req.WorkflowID,
		WorkflowType:   req.WorkflowType,
		CreatedAt:      time.Now().UTC(),
		AgentID:        req.AgentID,
		StageIndex:     req.StageIndex,
		Snapshot:       req.Snapshot,
		SchemaVersion:  SchemaVersion,
		StateSizeBytes: size,
		Metadata:       req.Metadata,
	}

	writeErr := s.primary.write(ctx, cp)
	if writeErr != nil {
		if s.fallback == nil {
			return nil, corerr.Wrap(corerr.StorageError, "primary backend write failed", writeErr)
		}
		if s.onFallback != nil {
			s.onFallback(writeErr)
		}
		if fbErr := s.fallback.write(ctx, cp); fbErr != nil {
			return nil, corerr.Wrap(corerr.StorageError, "primary and fallback backends both failed to persist checkpoint", fbErr)
		}
	}

	s.enforceRetention(ctx, req.WorkflowID)
	return cp, nil
}

func (s *Store) allocateID(ctx context.Context) (string, error) {
	for i := 0; i < idCollisionRetries; i++ {
		id := newID()
		exists, err := s.primary.exists(ctx, id)
		if err != nil {
			if s.fallback == nil {
				return "", corerr.Wrap(corerr.StorageError, "checking checkpoint id uniqueness", err)
			}
			// The primary write will fail the same way and Save falls back;
			// uniqueness is then checked against the fallback alone.
			exists = false
		}
		if exists {
			continue
		}
		if s.fallback != nil {
			fbExists, err := s.fallback.exists(ctx, id)
			if err != nil {
				return "", corerr.Wrap(corerr.StorageError, "checking checkpoint id uniqueness", err)
			}
			if fbExists {
				continue
			}
		}
		return id, nil
	}
	return "", corerr.New(corerr.StorageError, "could not allocate a unique checkpoint id after repeated collisions")
}

// Load tries primary then fallback (when configured) and returns (nil, nil)
// when the checkpoint is absent from both. A primary read failure is
// returned only when there is no fallback or the fallback lacks the id too.
func (s *Store) Load(ctx context.Context, id string) (*Checkpoint, error) {
	cp, err := s.primary.read(ctx, id)
	if err == nil && cp != nil {
		return cp, nil
	}
	if s.fallback == nil {
		if err != nil {
			return nil, corerr.Wrap(corerr.StorageError, "loading checkpoint from primary backend", err)
		}
		return nil, nil
	}
	fbCP, fbErr := s.fallback.read(ctx, id)
	if fbErr != nil {
		return nil, corerr.Wrap(corerr.StorageError, "loading checkpoint from fallback backend", fbErr)
	}
	if fbCP == nil && err != nil {
		return nil, corerr.Wrap(corerr.StorageError, "loading checkpoint from primary backend", err)
	}
	return fbCP, nil
}

// ListForWorkflow merges both backends' entries for workflowID, dedupes by
// id, and orders the result by created_at descending (newest first).
func (s *Store) ListForWorkflow(ctx context.Context, workflowID string) ([]*Checkpoint, error) {
	merged, err := s.mergedList(ctx, func(b backend) ([]*Checkpoint, error) { return b.list(ctx, workflowID) })
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// GetLatest returns the first element of ListForWorkflow, or nil if the
// workflow has no checkpoints.
func (s *Store) GetLatest(ctx context.Context, workflowID string) (*Checkpoint, error) {
	list, err := s.ListForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// Delete removes a checkpoint from both backends. Missing entries are not
// errors (idempotent).
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.primary.delete(ctx, id); err != nil {
		return corerr.Wrap(corerr.StorageError, "deleting checkpoint from primary backend", err)
	}
	if s.fallback != nil {
		if err := s.fallback.delete(ctx, id); err != nil {
			return corerr.Wrap(corerr.StorageError, "deleting checkpoint from fallback backend", err)
		}
	}
	return nil
}

// DeleteForWorkflow removes every checkpoint for workflowID from both
// backends and returns the total count removed.
func (s *Store) DeleteForWorkflow(ctx context.Context, workflowID string) (int, error) {
	n, err := s.primary.deleteAll(ctx, workflowID)
	if err != nil {
		return 0, corerr.Wrap(corerr.StorageError, "deleting workflow checkpoints from primary backend", err)
	}
	if s.fallback != nil {
		m, err := s.fallback.deleteAll(ctx, workflowID)
		if err != nil {
			return n, corerr.Wrap(corerr.StorageError, "deleting workflow checkpoints from fallback backend", err)
		}
		n += m
	}
	return n, nil
}

// Statistics scans both backends and recomputes the aggregate view.
func (s *Store) Statistics(ctx context.Context) (Statistics, error) {
	merged, err := s.mergedList(ctx, func(b backend) ([]*Checkpoint, error) { return b.all(ctx) })
	if err != nil {
		return Statistics{}, err
	}

	var stats Statistics
	if len(merged) == 0 {
		return stats, nil
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	var totalBytes int64
	for _, cp := range merged {
		stats.TotalCount++
		totalBytes += int64(cp.StateSizeBytes)
		if cp.StateSizeBytes > stats.LargestSize {
			stats.LargestSize = cp.StateSizeBytes
		}
		if cp.CreatedAt.After(cutoff) {
			stats.Last24h++
		}
		if stats.Oldest == nil || cp.CreatedAt.Before(*stats.Oldest) {
			t := cp.CreatedAt
			stats.Oldest = &t
		}
		if stats.Newest == nil || cp.CreatedAt.After(*stats.Newest) {
			t := cp.CreatedAt
			stats.Newest = &t
		}
	}
	stats.TotalBytes = totalBytes
	stats.AverageSize = float64(totalBytes) / float64(stats.TotalCount)
	return stats, nil
}

// Validate succeeds iff the checkpoint exists, has non-empty snapshot text,
// and that text parses as JSON.
func (s *Store) Validate(ctx context.Context, id string) (bool, error) {
	cp, err := s.Load(ctx, id)
	if err != nil {
		return false, err
	}
	if cp == nil {
		return false, corerr.Newf(corerr.NotFound, "checkpoint %s not found", id)
	}
	if cp.Snapshot == "" {
		return false, corerr.New(corerr.SerializationError, "checkpoint snapshot is empty")
	}
	if !json.Valid([]byte(cp.Snapshot)) {
		return false, corerr.Newf(corerr.SerializationError, "checkpoint %s snapshot is not valid JSON", id)
	}
	return true, nil
}

// enforceRetention deletes the oldest checkpoints for workflowID beyond
// maxPerWorkflow. Listing and delete failures are ignored and not reported:
// retention is a housekeeping concern, not a reason to fail a save that
// already succeeded.
func (s *Store) enforceRetention(ctx context.Context, workflowID string) {
	if s.maxPerWorkflow <= 0 {
		return
	}
	list, err := s.ListForWorkflow(ctx, workflowID)
	if err != nil || len(list) <= s.maxPerWorkflow {
		return
	}
	// list is newest-first; the tail beyond the cap is the oldest excess.
	for _, cp := range list[s.maxPerWorkflow:] {
		_ = s.Delete(ctx, cp.ID)
	}
}

func (s *Store) mergedList(ctx context.Context, fetch func(backend) ([]*Checkpoint, error)) ([]*Checkpoint, error) {
	byID := map[string]*Checkpoint{}

	primaryList, err := fetch(s.primary)
	if err != nil {
		return nil, corerr.Wrap(corerr.StorageError, "listing checkpoints from primary backend", err)
	}
	for _, cp := range primaryList {
		byID[cp.ID] = cp
	}

	if s.fallback != nil {
		fallbackList, err := fetch(s.fallback)
		if err != nil {
			return nil, corerr.Wrap(corerr.StorageError, "listing checkpoints from fallback backend", err)
		}
		for _, cp := range fallbackList {
			if _, ok := byID[cp.ID]; !ok {
				byID[cp.ID] = cp
			}
		}
	}

	merged := make([]*Checkpoint, 0, len(byID))
	for _, cp := range byID {
		merged = append(merged, cp)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].CreatedAt.After(merged[j].CreatedAt) })
	return merged, nil
}
