package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codelab-server/catalog"
	"codelab-server/evaluation"
	"codelab-server/logger"
	"codelab-server/models"
	"codelab-server/progress"
	"codelab-server/vault"
)

// testAuth stands in for the JWT middleware and pins the caller identity.
func testAuth(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	}
}

type apiFixture struct {
	router   *gin.Engine
	store    *catalog.MemoryStore
	progress *progress.MemoryStore
	vault    *vault.MemoryVault
}

func newAPIFixture(t *testing.T, userID string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := catalog.NewMemoryStore()
	progressStore := progress.NewMemoryStore()
	tokenVault := vault.NewMemoryVault(store)
	log := logger.NewNop()

	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(testAuth(userID))
	api.GET("/courses", GetCourses(store, log))
	api.POST("/enrollment", Enroll(store, tokenVault, log))
	api.GET("/pages/:page_id", GetPage(store, progressStore, log))
	api.POST("/progress", WriteProgress(progressStore, log))

	return &apiFixture{router: r, store: store, progress: progressStore, vault: tokenVault}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetCourses_ReturnsPublishedOnly(t *testing.T) {
	f := newAPIFixture(t, "u1")
	ctx := context.Background()
	require.NoError(t, f.store.CreateCourse(ctx, &models.Course{Title: "Go Basics", IsPublished: true}))
	require.NoError(t, f.store.CreateCourse(ctx, &models.Course{Title: "Hidden Draft"}))

	w := f.do(t, http.MethodGet, "/api/v1/courses", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var courses []models.Course
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &courses))
	require.Len(t, courses, 1)
	assert.Equal(t, "Go Basics", courses[0].Title)
}

func TestGetCourses_EmptyCatalogIsEmptyArray(t *testing.T) {
	f := newAPIFixture(t, "u1")
	w := f.do(t, http.MethodGet, "/api/v1/courses", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

func TestEnroll_FreeCourse(t *testing.T) {
	f := newAPIFixture(t, "u1")
	course := &models.Course{Title: "Free", IsPublished: true}
	require.NoError(t, f.store.CreateCourse(context.Background(), course))

	w := f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": course.ID})
	assert.Equal(t, http.StatusOK, w.Code)

	enrolled, err := f.store.IsEnrolled(context.Background(), "u1", course.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)

	// Second attempt conflicts.
	w = f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": course.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestEnroll_UnknownCourse(t *testing.T) {
	f := newAPIFixture(t, "u1")
	w := f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnroll_PricedCourse(t *testing.T) {
	f := newAPIFixture(t, "u1")
	ctx := context.Background()
	course := &models.Course{Title: "Paid", Price: 4900, IsPublished: true}
	require.NoError(t, f.store.CreateCourse(ctx, course))

	t.Run("missing access code", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": course.ID})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid access code", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": course.ID, "accessCode": "bogus"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), `"INVALID"`)
	})

	t.Run("expired access code", func(t *testing.T) {
		expiry := time.Now().Add(-time.Minute)
		issued, err := f.vault.Issue(ctx, course.ID, &expiry)
		require.NoError(t, err)

		w := f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": course.ID, "accessCode": issued.Token})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), `"EXPIRED"`)
	})

	t.Run("valid access code enrolls and burns the token", func(t *testing.T) {
		issued, err := f.vault.Issue(ctx, course.ID, nil)
		require.NoError(t, err)

		w := f.do(t, http.MethodPost, "/api/v1/enrollment", gin.H{"courseId": course.ID, "accessCode": issued.Token})
		assert.Equal(t, http.StatusOK, w.Code)

		enrolled, err := f.store.IsEnrolled(ctx, "u1", course.ID)
		require.NoError(t, err)
		assert.True(t, enrolled)
	})
}

func TestGetPage_AccessControl(t *testing.T) {
	f := newAPIFixture(t, "u1")
	ctx := context.Background()
	course := &models.Course{Title: "Course", IsPublished: true}
	require.NoError(t, f.store.CreateCourse(ctx, course))
	page := models.CoursePage{ID: "p1", CourseID: course.ID, Title: "Page"}
	require.NoError(t, f.store.UpsertPage(ctx, page, nil))

	t.Run("unknown page", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/pages/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("not enrolled", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/pages/p1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("enrolled", func(t *testing.T) {
		require.NoError(t, f.store.Enroll(ctx, "u1", course.ID))
		w := f.do(t, http.MethodGet, "/api/v1/pages/p1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetPage_NormalizesLegacyCodeSections(t *testing.T) {
	f := newAPIFixture(t, "u1")
	ctx := context.Background()
	course := &models.Course{Title: "Course", IsPublished: true}
	require.NoError(t, f.store.CreateCourse(ctx, course))
	require.NoError(t, f.store.Enroll(ctx, "u1", course.ID))

	page := models.CoursePage{ID: "p1", CourseID: course.ID, Title: "Page"}
	sections := []models.PageSection{
		{
			Type: models.SectionCode,
			Content: map[string]any{
				"starterCode": "def f(): pass",
				"language":    "python",
				"testCases": []any{
					map[string]any{"input": "1", "expectedOutput": "2"},
				},
			},
		},
	}
	require.NoError(t, f.store.UpsertPage(ctx, page, sections))

	w := f.do(t, http.MethodGet, "/api/v1/pages/p1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Sections []models.PageSection   `json:"sections"`
		Progress *models.ProgressRecord `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Sections, 1)

	content := resp.Sections[0].Content
	starters, ok := content["starterCodeByLanguage"].(map[string]any)
	require.True(t, ok, "legacy shape must be served canonical")
	assert.Equal(t, "def f(): pass", starters["python"])
	assert.Equal(t, "python", content["defaultLanguage"])
	_, hasLegacy := content["starterCode"]
	assert.False(t, hasLegacy)
	assert.Nil(t, resp.Progress, "no progress yet")
}

func TestWriteProgress_Actions(t *testing.T) {
	f := newAPIFixture(t, "u1")
	ctx := context.Background()

	t.Run("complete", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/progress", gin.H{"pageId": "p1", "action": "complete"})
		require.Equal(t, http.StatusOK, w.Code)

		rec, err := f.progress.Get(ctx, "u1", "p1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.NotNil(t, rec.CompletedAt)
	})

	t.Run("mcq", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/progress", gin.H{
			"pageId": "p1", "action": "mcq",
			"data": gin.H{"sectionId": "s1", "selectedOption": "b", "isCorrect": true},
		})
		require.Equal(t, http.StatusOK, w.Code)

		rec, err := f.progress.Get(ctx, "u1", "p1")
		require.NoError(t, err)
		assert.Equal(t, "b", rec.MCQAnswers["s1"].SelectedOption)
		assert.False(t, rec.MCQAnswers["s1"].AnsweredAt.IsZero())
	})

	t.Run("code", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/progress", gin.H{
			"pageId": "p1", "action": "code",
			"data": gin.H{
				"sectionId": "s2", "code": "print(1)", "language": "python",
				"allPassed": true,
				"results":   []gin.H{{"passed": true, "output": "1", "expected": "1"}},
			},
		})
		require.Equal(t, http.StatusOK, w.Code)

		rec, err := f.progress.Get(ctx, "u1", "p1")
		require.NoError(t, err)
		assert.True(t, rec.CodeSubmissions["s2"].AllPassed)
		// Earlier writes for other sections are untouched.
		assert.Equal(t, "b", rec.MCQAnswers["s1"].SelectedOption)
		assert.NotNil(t, rec.CompletedAt)
	})
}

func TestWriteProgress_RejectsMalformedWrites(t *testing.T) {
	f := newAPIFixture(t, "u1")

	cases := map[string]gin.H{
		"unknown action": {"pageId": "p1", "action": "teleport"},
		"mcq without data": {
			"pageId": "p1", "action": "mcq",
		},
		"mcq missing isCorrect": {
			"pageId": "p1", "action": "mcq",
			"data": gin.H{"sectionId": "s1", "selectedOption": "b"},
		},
		"code missing results": {
			"pageId": "p1", "action": "code",
			"data": gin.H{"sectionId": "s1", "code": "x", "language": "python", "allPassed": true},
		},
		"missing pageId": {"action": "complete"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/progress", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

// passingStrategy always reports success without touching the outside world.
type passingStrategy struct{}

func (passingStrategy) Evaluate(_ context.Context, req models.EvaluationRequest) (*models.Evaluation, error) {
	results := make([]models.TestResult, len(req.TestCases))
	for i := range results {
		results[i] = models.TestResult{Passed: true}
	}
	return &models.Evaluation{Results: results, AllPassed: true}, nil
}

func TestEvaluateCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/v1/evaluations", testAuth("u1"), EvaluateCode(evaluation.NewEngine(passingStrategy{}), logger.NewNop()))

	do := func(body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluations", &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("valid submission", func(t *testing.T) {
		w := do(gin.H{
			"code": "print(1)", "language": "python",
			"testCases": []gin.H{{"input": "a", "expectedOutput": "b"}},
		})
		require.Equal(t, http.StatusOK, w.Code)

		var eval models.Evaluation
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &eval))
		assert.True(t, eval.AllPassed)
		require.Len(t, eval.Results, 1)
	})

	t.Run("binding failure", func(t *testing.T) {
		w := do(gin.H{"code": "print(1)"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("whitespace code rejected by engine", func(t *testing.T) {
		w := do(gin.H{
			"code": "   ", "language": "python",
			"testCases": []gin.H{{"input": "a", "expectedOutput": "b"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
