// Package checkpoint persists scan progress through the catalog so an
// interrupted session can resume at a directory boundary.
//
// Every failure in here is swallowed by contract: losing a checkpoint only
// degrades resumability, it must never fail the scan.
package checkpoint

import (
	"context"

	"asset-agent/internal/catalog"
	"asset-agent/internal/logging"
)

// CatalogStore is the slice of the catalog client this package needs.
type CatalogStore interface {
	GetCheckpoint(ctx context.Context) (*catalog.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, sessionID, lastCompletedDirectory string) error
	ClearCheckpoint(ctx context.Context) error
}

// Store reads and writes the server-held checkpoint for one agent.
type Store struct {
	catalog CatalogStore
}

// NewStore creates a checkpoint store backed by the catalog.
func NewStore(c CatalogStore) *Store {
	return &Store{catalog: c}
}

// Resume returns the directory to resume after for the given session, or ""
// when there is nothing usable. Checkpoints belonging to a different session
// are discarded: they describe a traversal this session did not perform.
func (s *Store) Resume(ctx context.Context, sessionID string) string {
	cp, err := s.catalog.GetCheckpoint(ctx)
	if err != nil {
		logging.Debug("checkpoint fetch failed, starting fresh: %v", err)
		return ""
	}
	if cp == nil {
		return ""
	}
	if cp.SessionID != sessionID {
		logging.Debug("discarding checkpoint for session %s (current %s)", cp.SessionID, sessionID)
		return ""
	}
	logging.Info("resuming session %s after directory %s", sessionID, cp.LastCompletedDirectory)
	return cp.LastCompletedDirectory
}

// Save overwrites the checkpoint after a directory completes.
func (s *Store) Save(ctx context.Context, sessionID, lastCompletedDirectory string) {
	if err := s.catalog.SaveCheckpoint(ctx, sessionID, lastCompletedDirectory); err != nil {
		logging.Debug("checkpoint save failed for %s: %v", lastCompletedDirectory, err)
	}
}

// Clear removes the checkpoint after a clean completion.
func (s *Store) Clear(ctx context.Context) {
	if err := s.catalog.ClearCheckpoint(ctx); err != nil {
		logging.Debug("checkpoint clear failed: %v", err)
	}
}
