// Package progress persists per-user, per-page learning state. Writes are
// field-level merges: recording an answer or submission for one section
// never removes or alters entries for any other section, and concurrent
// writes to the same (user, page) key are serialized so no update is lost.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"codelab-server/models"
)

// Store is the injected persistence interface for progress records. Both
// implementations guarantee linearizable writes per (userID, pageID) key;
// no ordering is guaranteed across different keys.
type Store interface {
	// Get returns the record for (userID, pageID), or nil if none exists.
	Get(ctx context.Context, userID, pageID string) (*models.ProgressRecord, error)
	// SaveMCQAnswer merges one section's MCQ answer into the record.
	SaveMCQAnswer(ctx context.Context, userID, pageID, sectionID string, answer models.MCQAnswer) error
	// SaveCodeSubmission merges one section's code submission into the record.
	SaveCodeSubmission(ctx context.Context, userID, pageID, sectionID string, submission models.CodeSubmission) error
	// MarkComplete stamps the page complete. Repeated calls refresh the
	// timestamp; completion is never cleared.
	MarkComplete(ctx context.Context, userID, pageID string) error
}

// MemoryStore keeps progress records in memory, serializing writes with a
// single mutex. It backs tests and single-node deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.ProgressRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.ProgressRecord)}
}

func progressKey(userID, pageID string) string {
	return userID + "\x00" + pageID
}

func (s *MemoryStore) Get(_ context.Context, userID, pageID string) (*models.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[progressKey(userID, pageID)]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) SaveMCQAnswer(_ context.Context, userID, pageID, sectionID string, answer models.MCQAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(userID, pageID)
	rec.MCQAnswers[sectionID] = answer
	rec.Version++
	return nil
}

func (s *MemoryStore) SaveCodeSubmission(_ context.Context, userID, pageID, sectionID string, submission models.CodeSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(userID, pageID)
	rec.CodeSubmissions[sectionID] = submission
	rec.Version++
	return nil
}

func (s *MemoryStore) MarkComplete(_ context.Context, userID, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensure(userID, pageID)
	now := time.Now()
	rec.CompletedAt = &now
	return nil
}

// ensure returns the live record for the key, creating it if absent.
// Callers must hold the mutex.
func (s *MemoryStore) ensure(userID, pageID string) *models.ProgressRecord {
	key := progressKey(userID, pageID)
	rec, ok := s.records[key]
	if !ok {
		rec = &models.ProgressRecord{
			ID:              uuid.NewString(),
			UserID:          userID,
			PageID:          pageID,
			MCQAnswers:      make(map[string]models.MCQAnswer),
			CodeSubmissions: make(map[string]models.CodeSubmission),
		}
		s.records[key] = rec
	}
	return rec
}

func copyRecord(rec *models.ProgressRecord) *models.ProgressRecord {
	out := *rec
	out.MCQAnswers = make(map[string]models.MCQAnswer, len(rec.MCQAnswers))
	for k, v := range rec.MCQAnswers {
		out.MCQAnswers[k] = v
	}
	out.CodeSubmissions = make(map[string]models.CodeSubmission, len(rec.CodeSubmissions))
	for k, v := range rec.CodeSubmissions {
		out.CodeSubmissions[k] = v
	}
	return &out
}
