package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"codelab-server/catalog"
	"codelab-server/content"
	"codelab-server/ingestion"
	"codelab-server/logger"
	"codelab-server/models"
	"codelab-server/vault"
)

// Audit records an administrative event for the dashboard trail.
type Audit func(actor, action, target, notes string)

// AdminDashboard renders the admin dashboard with metrics and recent activity.
// GET /admin/dashboard
func AdminDashboard(pool *pgxpool.Pool, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var totalCourses int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM courses`).Scan(&totalCourses)

		var totalEnrollments int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM course_enrollments`).Scan(&totalEnrollments)

		var outstandingTokens int
		_ = pool.QueryRow(context.Background(), `SELECT COUNT(id) FROM course_access_tokens WHERE used_at IS NULL`).Scan(&outstandingTokens)

		adminEventsQuery := `SELECT id, timestamp, action, actor, target, notes FROM admin_events ORDER BY timestamp DESC LIMIT 5`
		rows, err := pool.Query(context.Background(), adminEventsQuery)
		var recentEvents []models.AuditEvent
		if err == nil {
			for rows.Next() {
				var ev models.AuditEvent
				_ = rows.Scan(&ev.ID, &ev.Timestamp, &ev.Action, &ev.Actor, &ev.Target, &ev.Notes)
				recentEvents = append(recentEvents, ev)
			}
			rows.Close()
		} else {
			log.Error("failed to fetch recent admin events", "error", err)
		}

		c.HTML(http.StatusOK, "admin_dashboard", gin.H{
			"Title":             "CodeLab Admin Dashboard",
			"TotalCourses":      totalCourses,
			"TotalEnrollments":  totalEnrollments,
			"OutstandingTokens": outstandingTokens,
			"RecentEvents":      recentEvents,
			"UserID":            c.GetString("user_id"),
		})
	}
}

// courseWriteRequest is the admin course create/update body.
type courseWriteRequest struct {
	Title        string  `json:"title" binding:"required"`
	Description  string  `json:"description"`
	ThumbnailURL *string `json:"thumbnailUrl"`
	Price        int     `json:"price"`
	IsPublished  bool    `json:"isPublished"`
}

// AdminCreateCourse creates a course.
// POST /admin/courses
func AdminCreateCourse(store catalog.Store, audit Audit, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req courseWriteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		course := models.Course{
			Title:        req.Title,
			Description:  req.Description,
			ThumbnailURL: req.ThumbnailURL,
			Price:        req.Price,
			IsPublished:  req.IsPublished,
		}
		if err := store.CreateCourse(c.Request.Context(), &course); err != nil {
			respondError(c, log, err)
			return
		}
		audit(c.GetString("user_id"), "course_created", course.ID, course.Title)
		c.JSON(http.StatusCreated, course)
	}
}

// AdminUpdateCourse updates a course.
// PUT /admin/courses/:course_id
func AdminUpdateCourse(store catalog.Store, audit Audit, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID := c.Param("course_id")
		var req courseWriteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		course, err := store.GetCourse(c.Request.Context(), courseID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if course == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
			return
		}
		course.Title = req.Title
		course.Description = req.Description
		course.ThumbnailURL = req.ThumbnailURL
		course.Price = req.Price
		course.IsPublished = req.IsPublished
		if err := store.UpdateCourse(c.Request.Context(), course); err != nil {
			respondError(c, log, err)
			return
		}
		audit(c.GetString("user_id"), "course_updated", course.ID, course.Title)
		c.JSON(http.StatusOK, course)
	}
}

// sectionWrite is one section in a page write.
type sectionWrite struct {
	ID         string             `json:"id"`
	Type       models.SectionType `json:"type" binding:"required"`
	OrderIndex int                `json:"orderIndex"`
	Content    map[string]any     `json:"content"`
}

// pageWriteRequest is the admin page upsert body.
type pageWriteRequest struct {
	CourseID   string         `json:"courseId" binding:"required"`
	Title      string         `json:"title" binding:"required"`
	OrderIndex int            `json:"orderIndex"`
	Sections   []sectionWrite `json:"sections"`
}

// AdminUpsertPage writes a page and its sections. Code sections pass
// through the normalization boundary so only the canonical multi-language
// shape is persisted; transient editor fields are dropped here.
// PUT /admin/pages/:page_id
func AdminUpsertPage(store catalog.Store, audit Audit, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pageID := c.Param("page_id")
		var req pageWriteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		course, err := store.GetCourse(c.Request.Context(), req.CourseID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if course == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
			return
		}

		page := models.CoursePage{
			ID:         pageID,
			CourseID:   req.CourseID,
			Title:      req.Title,
			OrderIndex: req.OrderIndex,
		}
		sections := make([]models.PageSection, 0, len(req.Sections))
		for i, sec := range req.Sections {
			stored := models.PageSection{
				ID:         sec.ID,
				Type:       sec.Type,
				OrderIndex: i,
				Content:    sec.Content,
			}
			switch sec.Type {
			case models.SectionText, models.SectionImage, models.SectionMCQ:
				// Opaque to the core; persisted as received.
			case models.SectionCode:
				stored.Content = content.ToMap(content.Normalize(sec.Content))
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown section type: %s", sec.Type)})
				return
			}
			sections = append(sections, stored)
		}

		if err := store.UpsertPage(c.Request.Context(), page, sections); err != nil {
			respondError(c, log, err)
			return
		}
		audit(c.GetString("user_id"), "page_saved", page.ID, page.Title)
		c.JSON(http.StatusOK, gin.H{"page_id": page.ID, "sections": len(sections)})
	}
}

// AdminIssueToken mints a single-use access token for a priced course.
// The raw token appears in this response and is unrecoverable afterwards.
// POST /admin/courses/:course_id/tokens
func AdminIssueToken(store catalog.Store, tokens vault.Vault, audit Audit, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID := c.Param("course_id")

		course, err := store.GetCourse(c.Request.Context(), courseID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if course == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
			return
		}
		if course.Price == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Tokens are only needed for priced courses"})
			return
		}

		var req models.TokenIssueRequest
		if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var expiresAt *time.Time
		if req.ExpiryMinutes != nil && *req.ExpiryMinutes > 0 {
			t := time.Now().Add(time.Duration(*req.ExpiryMinutes) * time.Minute)
			expiresAt = &t
		}

		issued, err := tokens.Issue(c.Request.Context(), courseID, expiresAt)
		if err != nil {
			respondError(c, log, err)
			return
		}
		audit(c.GetString("user_id"), "token_issued", courseID, issued.ID)
		c.JSON(http.StatusOK, issued)
	}
}

// TriggerIngestion loads YAML course packs from the content directory.
// POST /admin/ingest
func TriggerIngestion(pool *pgxpool.Pool, packsPath string, audit Audit, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		loaded, err := ingestion.ProcessContentPacks(pool, packsPath, log)
		if err != nil {
			audit(c.GetString("user_id"), "ingestion_failed", packsPath, err.Error())
			respondError(c, log, err)
			return
		}
		audit(c.GetString("user_id"), "ingestion_success", packsPath, fmt.Sprintf("%d course packs loaded", loaded))
		c.JSON(http.StatusOK, gin.H{"courses_loaded": loaded})
	}
}
