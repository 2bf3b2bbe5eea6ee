// Package catalog persists courses, pages, sections and enrollments.
// Section content is stored as an opaque JSON blob; the code variant is
// normalized at the write boundary by the handlers, not here.
package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"codelab-server/models"
)

// Store is the injected persistence interface for catalog data.
type Store interface {
	ListPublishedCourses(ctx context.Context) ([]models.Course, error)
	// GetCourse returns nil when no such course exists.
	GetCourse(ctx context.Context, courseID string) (*models.Course, error)
	CreateCourse(ctx context.Context, course *models.Course) error
	UpdateCourse(ctx context.Context, course *models.Course) error
	// GetPage returns the page and its sections ordered by index, or a nil
	// page when none exists.
	GetPage(ctx context.Context, pageID string) (*models.CoursePage, []models.PageSection, error)
	// UpsertPage replaces the page's sections wholesale.
	UpsertPage(ctx context.Context, page models.CoursePage, sections []models.PageSection) error
	IsEnrolled(ctx context.Context, userID, courseID string) (bool, error)
	// Enroll is idempotent: enrolling an already-enrolled user is a no-op.
	Enroll(ctx context.Context, userID, courseID string) error
}

// MemoryStore is the in-memory Store used by tests.
type MemoryStore struct {
	mu          sync.Mutex
	courses     map[string]models.Course
	pages       map[string]models.CoursePage
	sections    map[string][]models.PageSection // keyed by page id
	enrollments map[string]bool                 // keyed by userID+courseID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		courses:     make(map[string]models.Course),
		pages:       make(map[string]models.CoursePage),
		sections:    make(map[string][]models.PageSection),
		enrollments: make(map[string]bool),
	}
}

func enrollmentKey(userID, courseID string) string {
	return userID + "\x00" + courseID
}

func (s *MemoryStore) ListPublishedCourses(_ context.Context) ([]models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Course{}
	for _, c := range s.courses {
		if c.IsPublished {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *MemoryStore) GetCourse(_ context.Context, courseID string) (*models.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[courseID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *MemoryStore) CreateCourse(_ context.Context, course *models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now()
	course.CreatedAt = now
	course.UpdatedAt = now
	s.courses[course.ID] = *course
	return nil
}

func (s *MemoryStore) UpdateCourse(_ context.Context, course *models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	course.UpdatedAt = time.Now()
	s.courses[course.ID] = *course
	return nil
}

func (s *MemoryStore) GetPage(_ context.Context, pageID string) (*models.CoursePage, []models.PageSection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[pageID]
	if !ok {
		return nil, nil, nil
	}
	sections := append([]models.PageSection{}, s.sections[pageID]...)
	sort.Slice(sections, func(i, j int) bool { return sections[i].OrderIndex < sections[j].OrderIndex })
	return &p, sections, nil
}

func (s *MemoryStore) UpsertPage(_ context.Context, page models.CoursePage, sections []models.PageSection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if page.ID == "" {
		page.ID = uuid.NewString()
	}
	s.pages[page.ID] = page
	stored := make([]models.PageSection, len(sections))
	for i, sec := range sections {
		if sec.ID == "" {
			sec.ID = uuid.NewString()
		}
		sec.PageID = page.ID
		stored[i] = sec
	}
	s.sections[page.ID] = stored
	return nil
}

func (s *MemoryStore) IsEnrolled(_ context.Context, userID, courseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[enrollmentKey(userID, courseID)], nil
}

func (s *MemoryStore) Enroll(_ context.Context, userID, courseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enrollments[enrollmentKey(userID, courseID)] = true
	return nil
}

// EnrollmentCount reports how many users are enrolled in the course.
// Test helper for the single-use redemption property.
func (s *MemoryStore) EnrollmentCount(courseID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, ok := range s.enrollments {
		if ok && key[len(key)-len(courseID):] == courseID {
			n++
		}
	}
	return n
}
