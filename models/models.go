package models

import (
	"time"
)

// Course represents a course in the catalog.
type Course struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	ThumbnailURL *string   `json:"thumbnail_url"`
	Price        int       `json:"price"` // cents; 0 means free
	IsPublished  bool      `json:"is_published"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CoursePage is one ordered page within a course.
type CoursePage struct {
	ID         string    `json:"id"`
	CourseID   string    `json:"course_id"`
	Title      string    `json:"title"`
	OrderIndex int       `json:"order_index"`
	CreatedAt  time.Time `json:"created_at"`
}

// SectionType enumerates the content-block variants a page can carry.
type SectionType string

const (
	SectionText  SectionType = "text"
	SectionImage SectionType = "image"
	SectionMCQ   SectionType = "mcq"
	SectionCode  SectionType = "code"
)

// PageSection is one renderable content block on a page. Content is a
// JSON blob whose shape depends on Type; only the code variant has a
// normalization boundary (see the content package).
type PageSection struct {
	ID         string         `json:"id"`
	PageID     string         `json:"page_id"`
	Type       SectionType    `json:"type"`
	OrderIndex int            `json:"order_index"`
	Content    map[string]any `json:"content"`
}

// TestCase is one input/expected-output pair for a coding challenge.
// Input and expected output are opaque, language-specific strings.
// Hidden cases are graded but never shown to the learner.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	Hidden         bool   `json:"hidden,omitempty"`
}

// CodeContent is the canonical in-memory form of a code section's content.
// Language keys may appear in either map independently; absence means
// "not yet authored".
type CodeContent struct {
	Title                 string                `json:"title"`
	Description           string                `json:"description"`
	DefaultLanguage       string                `json:"defaultLanguage"`
	StarterCodeByLanguage map[string]string     `json:"starterCodeByLanguage"`
	TestCasesByLanguage   map[string][]TestCase `json:"testCasesByLanguage"`
}

// Verdict classifications produced by the judged evaluation strategy.
const (
	VerdictPass   = "pass"
	VerdictFail   = "fail"
	VerdictUnsure = "unsure"
)

// AcceptanceThreshold is the minimum judge confidence at which a "pass"
// verdict is treated as all tests passing. Policy constant, not
// learner-configurable.
const AcceptanceThreshold = 0.75

// Highlight is a 1-based source range the judge flagged as suspect.
type Highlight struct {
	StartLine int    `json:"startLine"`
	StartCol  int    `json:"startCol"`
	EndLine   int    `json:"endLine"`
	EndCol    int    `json:"endCol"`
	Reason    string `json:"reason"`
}

// TestResult is the per-case outcome reported to the client.
type TestResult struct {
	Passed   bool   `json:"passed"`
	Output   string `json:"output"`
	Expected string `json:"expected"`
}

// EvaluationRequest is the wire shape of a learner's evaluation call.
// It is constructed per call and never persisted.
type EvaluationRequest struct {
	Code      string     `json:"code" binding:"required"`
	Language  string     `json:"language" binding:"required"`
	TestCases []TestCase `json:"testCases" binding:"required"`
}

// Evaluation is the outcome of one evaluation attempt. Results, AllPassed
// and Output are always populated for backward compatibility with older
// client renderers; Verdict/Confidence/Message/Highlights are set only by
// the judged strategy. AllPassed under the judged strategy is synthetic:
// it means the judge asserted "pass" at or above AcceptanceThreshold, not
// that the code was executed.
type Evaluation struct {
	Verdict    string       `json:"verdict,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`
	Message    string       `json:"message,omitempty"`
	Highlights []Highlight  `json:"highlights,omitempty"`
	Results    []TestResult `json:"results"`
	AllPassed  bool         `json:"allPassed"`
	Output     string       `json:"output"`
}

// MCQAnswer is a learner's recorded answer to one MCQ section.
type MCQAnswer struct {
	SelectedOption string    `json:"selectedOption"`
	IsCorrect      bool      `json:"isCorrect"`
	AnsweredAt     time.Time `json:"answeredAt"`
}

// CodeSubmission is a learner's recorded submission for one code section.
type CodeSubmission struct {
	Code        string       `json:"code"`
	Language    string       `json:"language"`
	AllPassed   bool         `json:"allPassed"`
	Results     []TestResult `json:"results"`
	Output      string       `json:"output,omitempty"`
	SubmittedAt time.Time    `json:"submittedAt"`
}

// ProgressRecord is the durable per-learner, per-page state. At most one
// record exists per (UserID, PageID). Version backs the store's optimistic
// concurrency check and is not exposed to clients.
type ProgressRecord struct {
	ID              string                    `json:"id"`
	UserID          string                    `json:"user_id"`
	PageID          string                    `json:"page_id"`
	CompletedAt     *time.Time                `json:"completed_at"`
	MCQAnswers      map[string]MCQAnswer      `json:"mcq_answers"`
	CodeSubmissions map[string]CodeSubmission `json:"code_submissions"`
	Version         int                       `json:"-"`
}

// Enrollment links a user to a course.
type Enrollment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CourseID   string    `json:"course_id"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// IssuedToken is returned once at issuance; the raw token is unrecoverable
// afterwards because only its hash is stored.
type IssuedToken struct {
	ID        string     `json:"id"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// ProgressWriteRequest is the wire shape of a progress write.
type ProgressWriteRequest struct {
	PageID string           `json:"pageId" binding:"required"`
	Action string           `json:"action" binding:"required"`
	Data   *ProgressPayload `json:"data"`
}

// ProgressPayload carries the action-specific fields of a progress write.
type ProgressPayload struct {
	SectionID      string       `json:"sectionId"`
	SelectedOption string       `json:"selectedOption"`
	IsCorrect      *bool        `json:"isCorrect"`
	Code           string       `json:"code"`
	Language       string       `json:"language"`
	Results        []TestResult `json:"results"`
	AllPassed      *bool        `json:"allPassed"`
	Output         string       `json:"output"`
}

// EnrollmentRequest is the wire shape of an enrollment attempt.
type EnrollmentRequest struct {
	CourseID   string `json:"courseId" binding:"required"`
	AccessCode string `json:"accessCode"`
}

// TokenIssueRequest is the admin request to mint a course access token.
type TokenIssueRequest struct {
	ExpiryMinutes *int `json:"expiryMinutes"`
}

// AuditEvent mirrors one row of the admin_events table.
type AuditEvent struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Notes     string    `json:"notes"`
}
