package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"codelab-server/models"
)

// PostgresStore is the production catalog backed by pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ListPublishedCourses(ctx context.Context) ([]models.Course, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, description, thumbnail_url, price, is_published, created_at, updated_at
		FROM courses WHERE is_published = TRUE ORDER BY title
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query courses: %w", err)
	}
	defer rows.Close()

	var courses []models.Course
	for rows.Next() {
		var c models.Course
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.ThumbnailURL, &c.Price, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func (s *PostgresStore) GetCourse(ctx context.Context, courseID string) (*models.Course, error) {
	var c models.Course
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description, thumbnail_url, price, is_published, created_at, updated_at
		FROM courses WHERE id = $1
	`, courseID).Scan(&c.ID, &c.Title, &c.Description, &c.ThumbnailURL, &c.Price, &c.IsPublished, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch course: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreateCourse(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO courses (id, title, description, thumbnail_url, price, is_published)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, course.ID, course.Title, course.Description, course.ThumbnailURL, course.Price, course.IsPublished).
		Scan(&course.CreatedAt, &course.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert course: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCourse(ctx context.Context, course *models.Course) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE courses
		SET title = $2, description = $3, thumbnail_url = $4, price = $5, is_published = $6,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`, course.ID, course.Title, course.Description, course.ThumbnailURL, course.Price, course.IsPublished)
	if err != nil {
		return fmt.Errorf("failed to update course: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPage(ctx context.Context, pageID string) (*models.CoursePage, []models.PageSection, error) {
	var page models.CoursePage
	err := s.pool.QueryRow(ctx, `
		SELECT id, course_id, title, order_index, created_at FROM course_pages WHERE id = $1
	`, pageID).Scan(&page.ID, &page.CourseID, &page.Title, &page.OrderIndex, &page.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch page: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, page_id, type, order_index, content
		FROM page_sections WHERE page_id = $1 ORDER BY order_index
	`, pageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer rows.Close()

	var sections []models.PageSection
	for rows.Next() {
		var sec models.PageSection
		var contentJSON []byte
		if err := rows.Scan(&sec.ID, &sec.PageID, &sec.Type, &sec.OrderIndex, &contentJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan section: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &sec.Content); err != nil {
			return nil, nil, fmt.Errorf("failed to decode section content: %w", err)
		}
		sections = append(sections, sec)
	}
	return &page, sections, rows.Err()
}

func (s *PostgresStore) UpsertPage(ctx context.Context, page models.CoursePage, sections []models.PageSection) error {
	if page.ID == "" {
		page.ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin page upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO course_pages (id, course_id, title, order_index)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, order_index = EXCLUDED.order_index
	`, page.ID, page.CourseID, page.Title, page.OrderIndex)
	if err != nil {
		return fmt.Errorf("failed to upsert page: %w", err)
	}

	// Sections are replaced wholesale; the editor always sends the full set.
	_, err = tx.Exec(ctx, `DELETE FROM page_sections WHERE page_id = $1`, page.ID)
	if err != nil {
		return fmt.Errorf("failed to clear sections: %w", err)
	}

	for _, sec := range sections {
		if sec.ID == "" {
			sec.ID = uuid.NewString()
		}
		contentJSON, err := json.Marshal(sec.Content)
		if err != nil {
			return fmt.Errorf("failed to encode section content: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO page_sections (id, page_id, type, order_index, content)
			VALUES ($1, $2, $3, $4, $5)
		`, sec.ID, page.ID, sec.Type, sec.OrderIndex, contentJSON)
		if err != nil {
			return fmt.Errorf("failed to insert section: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	var enrolled bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_enrollments WHERE user_id = $1 AND course_id = $2)
	`, userID, courseID).Scan(&enrolled)
	if err != nil {
		return false, fmt.Errorf("failed to check enrollment: %w", err)
	}
	return enrolled, nil
}

func (s *PostgresStore) Enroll(ctx context.Context, userID, courseID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO course_enrollments (id, user_id, course_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, course_id) DO NOTHING
	`, uuid.NewString(), userID, courseID)
	if err != nil {
		return fmt.Errorf("failed to enroll user: %w", err)
	}
	return nil
}
