package models

import (
	"fmt"
	"strings"
	"time"
)

// DocumentKind discriminates the reviewable document categories.
type DocumentKind string

const (
	DocumentKindPlan     DocumentKind = "PLAN"
	DocumentKindBoarding DocumentKind = "BOARDING"
	DocumentKindOffice   DocumentKind = "OFFICE"
)

// PlanType enumerates the reporting cadence of a class plan.
type PlanType string

const (
	PlanTypeWeek  PlanType = "week"
	PlanTypeMonth PlanType = "month"
)

// ApprovalStatus captures the review lifecycle of a document.
type ApprovalStatus string

const (
	ApprovalPending       ApprovalStatus = "pending"
	ApprovalApproved      ApprovalStatus = "approved"
	ApprovalNeedsRevision ApprovalStatus = "needs_revision"
)

// Normalize maps absent or unknown statuses to pending.
func (s ApprovalStatus) Normalize() ApprovalStatus {
	switch s {
	case ApprovalApproved, ApprovalNeedsRevision:
		return s
	default:
		return ApprovalPending
	}
}

// CommentType distinguishes free discussion from reviewer requests and uploader responses.
type CommentType string

const (
	CommentTypeComment  CommentType = "comment"
	CommentTypeRequest  CommentType = "request"
	CommentTypeResponse CommentType = "response"
)

// Valid reports whether the comment type is known.
func (t CommentType) Valid() bool {
	return t == CommentTypeComment || t == CommentTypeRequest || t == CommentTypeResponse
}

// Period identifies a reporting cycle. Week is only set for weekly plans.
type Period struct {
	Week  int `json:"week,omitempty"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Validate checks the period shape for the given cadence.
func (p Period) Validate(planType PlanType) error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month must be between 1 and 12")
	}
	if p.Year < 2000 || p.Year > 2100 {
		return fmt.Errorf("year must be between 2000 and 2100")
	}
	switch planType {
	case PlanTypeWeek:
		if p.Week < 1 || p.Week > 5 {
			return fmt.Errorf("week must be between 1 and 5 for weekly plans")
		}
	default:
		if p.Week != 0 {
			return fmt.Errorf("week is only allowed for weekly plans")
		}
	}
	return nil
}

// String renders the period as year-month[-wN].
func (p Period) String() string {
	if p.Week > 0 {
		return fmt.Sprintf("%04d-%02d-w%d", p.Year, p.Month, p.Week)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// PlanDetails carries the fields specific to class plans.
type PlanDetails struct {
	PlanType PlanType `json:"planType"`
	Period   Period   `json:"period"`
}

// BoardingDetails carries the fields specific to boarding/menu documents.
type BoardingDetails struct {
	Period Period `json:"period"`
}

// OfficeDetails carries the fields specific to office documents.
type OfficeDetails struct {
	SchoolYear string `json:"schoolYear"`
}

// ApprovalState is embedded in every document.
type ApprovalState struct {
	Status          ApprovalStatus `json:"status"`
	ReviewerID      string         `json:"reviewerId,omitempty"`
	ReviewerName    string         `json:"reviewerName,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewedAt,omitempty"`
	RejectionReason string         `json:"rejectionReason,omitempty"`
}

// Comment is a single entry of a document's flat thread.
type Comment struct {
	ID         string      `db:"id" json:"id"`
	DocumentID string      `db:"document_id" json:"-"`
	Type       CommentType `db:"type" json:"type"`
	UserID     string      `db:"user_id" json:"userId"`
	UserName   string      `db:"user_name" json:"userName"`
	UserRole   UserRole    `db:"user_role" json:"userRole"`
	Content    string      `db:"content" json:"content"`
	Timestamp  time.Time   `db:"created_at" json:"timestamp"`
	EditedAt   *time.Time  `db:"edited_at" json:"editedAt,omitempty"`
}

// Document is a reviewable artifact with its approval state and comment thread.
type Document struct {
	ID           string           `json:"id"`
	Kind         DocumentKind     `json:"kind"`
	ClassID      string           `json:"classId"`
	Title        string           `json:"title"`
	FileRef      string           `json:"fileRef"`
	UploaderID   string           `json:"uploaderId"`
	UploaderName string           `json:"uploaderName"`
	Plan         *PlanDetails     `json:"plan,omitempty"`
	Boarding     *BoardingDetails `json:"boarding,omitempty"`
	Office       *OfficeDetails   `json:"office,omitempty"`
	Approval     ApprovalState    `json:"approval"`
	Comments     []Comment        `json:"comments"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Validate enforces the tagged-union shape of a document.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.ClassID) == "" {
		return fmt.Errorf("classId is required")
	}
	if strings.TrimSpace(d.UploaderID) == "" {
		return fmt.Errorf("uploaderId is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	switch d.Kind {
	case DocumentKindPlan:
		if d.Plan == nil || d.Boarding != nil || d.Office != nil {
			return fmt.Errorf("plan documents require plan details only")
		}
		if d.Plan.PlanType != PlanTypeWeek && d.Plan.PlanType != PlanTypeMonth {
			return fmt.Errorf("planType must be week or month")
		}
		return d.Plan.Period.Validate(d.Plan.PlanType)
	case DocumentKindBoarding:
		if d.Boarding == nil || d.Plan != nil || d.Office != nil {
			return fmt.Errorf("boarding documents require boarding details only")
		}
		return d.Boarding.Period.Validate(PlanTypeMonth)
	case DocumentKindOffice:
		if d.Office == nil || d.Plan != nil || d.Boarding != nil {
			return fmt.Errorf("office documents require office details only")
		}
		return nil
	default:
		return fmt.Errorf("unsupported document kind %q", d.Kind)
	}
}

// PlanType returns the plan cadence, empty for non-plan documents.
func (d *Document) PlanType() PlanType {
	if d.Plan == nil {
		return ""
	}
	return d.Plan.PlanType
}

// Period returns the reporting period when the document kind has one.
func (d *Document) Period() (Period, bool) {
	switch {
	case d.Plan != nil:
		return d.Plan.Period, true
	case d.Boarding != nil:
		return d.Boarding.Period, true
	default:
		return Period{}, false
	}
}

// Responded holds when the thread has at least one request and one response,
// regardless of their order or pairing.
func (d *Document) Responded() bool {
	var request, response bool
	for _, c := range d.Comments {
		switch c.Type {
		case CommentTypeRequest:
			request = true
		case CommentTypeResponse:
			response = true
		}
		if request && response {
			return true
		}
	}
	return false
}

// CommentIndex locates a comment in the thread.
func (d *Document) CommentIndex(id string) int {
	for i := range d.Comments {
		if d.Comments[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so pure transitions never alias caller state.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.Plan != nil {
		plan := *d.Plan
		out.Plan = &plan
	}
	if d.Boarding != nil {
		boarding := *d.Boarding
		out.Boarding = &boarding
	}
	if d.Office != nil {
		office := *d.Office
		out.Office = &office
	}
	if d.Approval.ReviewedAt != nil {
		at := *d.Approval.ReviewedAt
		out.Approval.ReviewedAt = &at
	}
	out.Comments = make([]Comment, len(d.Comments))
	copy(out.Comments, d.Comments)
	return &out
}

// DocumentFilter constrains listing and subscription queries. Zero values match anything.
type DocumentFilter struct {
	ClassIDs   []string
	Kind       DocumentKind
	PlanType   PlanType
	Week       int
	Month      int
	Year       int
	Status     []ApprovalStatus
	UploaderID string
	Limit      int
	Offset     int
}

// DocumentChange is the event published by the store after every write.
type DocumentChange struct {
	Op         string       `json:"op"`
	DocumentID string       `json:"documentId"`
	ClassID    string       `json:"classId"`
	Kind       DocumentKind `json:"kind"`
	PlanType   PlanType     `json:"planType,omitempty"`
	Week       int          `json:"week,omitempty"`
	Month      int          `json:"month,omitempty"`
	Year       int          `json:"year,omitempty"`
}

// Change operations published on the feed.
const (
	ChangeOpCreate   = "create"
	ChangeOpApproval = "approval"
	ChangeOpComment  = "comment"
	ChangeOpDelete   = "delete"
)

// MatchesChange reports whether a change event may affect the filtered set.
func (f DocumentFilter) MatchesChange(ev DocumentChange) bool {
	if len(f.ClassIDs) > 0 && !containsString(f.ClassIDs, ev.ClassID) {
		return false
	}
	if f.Kind != "" && f.Kind != ev.Kind {
		return false
	}
	if f.PlanType != "" && f.PlanType != ev.PlanType {
		return false
	}
	if f.Week != 0 && f.Week != ev.Week {
		return false
	}
	if f.Month != 0 && f.Month != ev.Month {
		return false
	}
	if f.Year != 0 && f.Year != ev.Year {
		return false
	}
	return true
}

// DocumentSet is a snapshot of the documents matching a filter.
type DocumentSet struct {
	Filter     DocumentFilter
	Documents  []Document
	ObservedAt time.Time
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
