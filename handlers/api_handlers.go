package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"codelab-server/apperr"
	"codelab-server/catalog"
	"codelab-server/content"
	"codelab-server/evaluation"
	"codelab-server/logger"
	"codelab-server/models"
	"codelab-server/progress"
	"codelab-server/vault"
)

// respondError maps a classified error to its HTTP status and short
// message. The raw error goes to the log, never to the caller.
func respondError(c *gin.Context, log *logger.Logger, err error) {
	log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	body := gin.H{"error": apperr.MessageOf(err)}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = string(code)
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

// GetCourses lists published courses.
// GET /api/v1/courses
func GetCourses(store catalog.Store, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		courses, err := store.ListPublishedCourses(c.Request.Context())
		if err != nil {
			respondError(c, log, err)
			return
		}
		if courses == nil {
			courses = []models.Course{}
		}
		c.JSON(http.StatusOK, courses)
	}
}

// Enroll enrolls the caller into a course. Free courses enroll directly;
// priced courses require a valid single-use access code.
// POST /api/v1/enrollment
func Enroll(store catalog.Store, tokens vault.Vault, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.EnrollmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userID := c.GetString("user_id")

		course, err := store.GetCourse(c.Request.Context(), req.CourseID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if course == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Course not found"})
			return
		}

		enrolled, err := store.IsEnrolled(c.Request.Context(), userID, req.CourseID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if enrolled {
			c.JSON(http.StatusConflict, gin.H{"error": "Already enrolled"})
			return
		}

		// Free course: enroll directly.
		if course.Price == 0 {
			if err := store.Enroll(c.Request.Context(), userID, req.CourseID); err != nil {
				respondError(c, log, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		// Priced course: requires a one-time token.
		if req.AccessCode == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Access code is required"})
			return
		}
		err = tokens.Redeem(c.Request.Context(), req.CourseID, req.AccessCode, userID)
		if errors.Is(err, vault.ErrTokenExpired) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access code expired", "code": "EXPIRED"})
			return
		}
		if errors.Is(err, vault.ErrTokenInvalid) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid access code", "code": "INVALID"})
			return
		}
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// GetPage returns a page with its sections (code sections normalized to
// the canonical shape) and the caller's progress record for it.
// GET /api/v1/pages/:page_id
func GetPage(store catalog.Store, progressStore progress.Store, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		pageID := c.Param("page_id")
		userID := c.GetString("user_id")

		page, sections, err := store.GetPage(c.Request.Context(), pageID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if page == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Page not found"})
			return
		}

		enrolled, err := store.IsEnrolled(c.Request.Context(), userID, page.CourseID)
		if err != nil {
			respondError(c, log, err)
			return
		}
		if !enrolled {
			c.JSON(http.StatusForbidden, gin.H{"error": "Not enrolled in this course"})
			return
		}

		for i, sec := range sections {
			if sec.Type == models.SectionCode {
				sections[i].Content = content.ToMap(content.Normalize(sec.Content))
			}
		}

		record, err := progressStore.Get(c.Request.Context(), userID, pageID)
		if err != nil {
			respondError(c, log, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"page":     page,
			"sections": sections,
			"progress": record,
		})
	}
}

// EvaluateCode resolves a submission into an Evaluation via the
// configured strategy.
// POST /api/v1/evaluations
func EvaluateCode(engine *evaluation.Engine, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.EvaluationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := engine.Evaluate(c.Request.Context(), req)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// WriteProgress records a completion, MCQ answer or code submission.
// Writes are field-level merges: a write for one section never disturbs
// another section's entry.
// POST /api/v1/progress
func WriteProgress(store progress.Store, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ProgressWriteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userID := c.GetString("user_id")

		switch req.Action {
		case "complete":
			if err := store.MarkComplete(c.Request.Context(), userID, req.PageID); err != nil {
				respondError(c, log, err)
				return
			}

		case "mcq":
			d := req.Data
			if d == nil || d.SectionID == "" || d.SelectedOption == "" || d.IsCorrect == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Missing MCQ data"})
				return
			}
			answer := models.MCQAnswer{
				SelectedOption: d.SelectedOption,
				IsCorrect:      *d.IsCorrect,
				AnsweredAt:     time.Now(),
			}
			if err := store.SaveMCQAnswer(c.Request.Context(), userID, req.PageID, d.SectionID, answer); err != nil {
				respondError(c, log, err)
				return
			}

		case "code":
			d := req.Data
			if d == nil || d.SectionID == "" || d.Code == "" || d.Language == "" || d.Results == nil || d.AllPassed == nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Missing code submission data"})
				return
			}
			submission := models.CodeSubmission{
				Code:        d.Code,
				Language:    d.Language,
				AllPassed:   *d.AllPassed,
				Results:     d.Results,
				Output:      d.Output,
				SubmittedAt: time.Now(),
			}
			if err := store.SaveCodeSubmission(c.Request.Context(), userID, req.PageID, d.SectionID, submission); err != nil {
				respondError(c, log, err)
				return
			}

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
