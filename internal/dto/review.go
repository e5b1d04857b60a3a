package dto

import "github.com/noah-isme/sma-review-api/internal/models"

// CreateDocumentRequest registers an uploaded document for review.
type CreateDocumentRequest struct {
	Kind       models.DocumentKind `json:"kind" validate:"required,oneof=PLAN BOARDING OFFICE"`
	ClassID    string              `json:"classId" validate:"required,max=64"`
	Title      string              `json:"title" validate:"required,max=255"`
	FileRef    string              `json:"fileRef" validate:"required,max=1024"`
	PlanType   models.PlanType     `json:"planType" validate:"omitempty,oneof=week month"`
	Week       int                 `json:"week" validate:"omitempty,min=1,max=5"`
	Month      int                 `json:"month" validate:"omitempty,min=1,max=12"`
	Year       int                 `json:"year" validate:"omitempty,min=2000,max=2100"`
	SchoolYear string              `json:"schoolYear" validate:"omitempty,max=16"`
}

// RequestRevisionRequest carries the reviewer's reason.
type RequestRevisionRequest struct {
	Reason string `json:"reason"`
}

// PostCommentRequest appends an entry to the thread.
type PostCommentRequest struct {
	Type    models.CommentType `json:"type" validate:"required,oneof=comment request response"`
	Content string             `json:"content"`
}

// EditCommentRequest replaces the content of an existing entry.
type EditCommentRequest struct {
	Content string `json:"content"`
}

// DocumentQuery mirrors the supported listing filters.
type DocumentQuery struct {
	ClassIDs []string
	Kind     models.DocumentKind
	PlanType models.PlanType
	Week     int
	Month    int
	Year     int
	Status   []models.ApprovalStatus
	Page     int
	PageSize int
}

// ReviewerPoolResponse describes who may review a document.
type ReviewerPoolResponse struct {
	DocumentID string            `json:"documentId"`
	Roles      []models.UserRole `json:"roles"`
	HomeScope  bool              `json:"homeScope"`
	Reviewers  []ReviewerSummary `json:"reviewers"`
}

// ReviewerSummary is a user eligible to review a document.
type ReviewerSummary struct {
	ID       string          `json:"id"`
	FullName string          `json:"fullName"`
	Role     models.UserRole `json:"role"`
}

// ClassroomStats is the review dashboard summary for a set of units.
type ClassroomStats struct {
	ApprovedCount  int         `json:"approvedCount"`
	PendingCount   int         `json:"pendingCount"`
	RevisionCount  int         `json:"revisionCount"`
	RespondedCount int         `json:"respondedCount"`
	Total          int         `json:"total"`
	Units          []UnitStats `json:"units"`
	Uploaded       []string    `json:"uploaded"`
	Missing        []string    `json:"missing"`
}

// UnitStats captures the counts for one owning unit.
type UnitStats struct {
	ClassID   string `json:"classId"`
	Approved  int    `json:"approved"`
	Pending   int    `json:"pending"`
	Revision  int    `json:"revision"`
	Responded int    `json:"responded"`
	Total     int    `json:"total"`
	Uploaded  bool   `json:"uploaded"`
}

// StatsQuery scopes a dashboard summary.
type StatsQuery struct {
	ClassIDs []string            `json:"classIds"`
	Kind     models.DocumentKind `json:"kind"`
	PlanType models.PlanType     `json:"planType"`
	Week     int                 `json:"week"`
	Month    int                 `json:"month"`
	Year     int                 `json:"year"`
}

// ExportFormat enumerates supported dashboard exports.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult is a rendered dashboard export.
type ExportResult struct {
	Filename    string
	ContentType string
	Content     []byte
}
