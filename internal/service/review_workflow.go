package service

import (
	"strings"
	"time"

	"github.com/noah-isme/sma-review-api/internal/models"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
)

// Approve moves a pending or needs_revision document to approved, recording the reviewer and
// clearing any rejection reason. It reports false and leaves the document untouched when it is
// already approved.
func Approve(doc *models.Document, reviewer models.Actor, now time.Time) bool {
	if doc.Approval.Status.Normalize() == models.ApprovalApproved {
		return false
	}
	at := now.UTC()
	doc.Approval = models.ApprovalState{
		Status:       models.ApprovalApproved,
		ReviewerID:   reviewer.UserID,
		ReviewerName: reviewer.Name,
		ReviewedAt:   &at,
	}
	return true
}

// RequestRevision moves a pending or needs_revision document to needs_revision and appends a
// request comment carrying the reason. The document is unchanged on error.
func RequestRevision(doc *models.Document, reviewer models.Actor, reason string, now time.Time, newID func() string) (*models.Comment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "revision reason is required")
	}
	if doc.Approval.Status.Normalize() == models.ApprovalApproved {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "document already approved")
	}
	at := now.UTC()
	doc.Approval = models.ApprovalState{
		Status:          models.ApprovalNeedsRevision,
		ReviewerID:      reviewer.UserID,
		ReviewerName:    reviewer.Name,
		ReviewedAt:      &at,
		RejectionReason: reason,
	}
	comment := models.Comment{
		ID:         newID(),
		DocumentID: doc.ID,
		Type:       models.CommentTypeRequest,
		UserID:     reviewer.UserID,
		UserName:   reviewer.Name,
		UserRole:   reviewer.Role,
		Content:    reason,
		Timestamp:  at,
	}
	doc.Comments = append(doc.Comments, comment)
	return &comment, nil
}

// ReviewerPool is the set of roles allowed to review a document.
type ReviewerPool struct {
	Roles []models.UserRole
	// Escalated is set when a week plan skipped head teachers because its class is one's home class.
	Escalated bool
}

// Contains reports whether role belongs to the pool.
func (p ReviewerPool) Contains(role models.UserRole) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ResolveReviewerPool applies the escalation rule. Month plans, boarding and office documents are
// reviewed by vice principals. Week plans go to head teachers unless the owning class is the home
// class of some head teacher, in which case they escalate to vice principals.
func ResolveReviewerPool(doc *models.Document, homeScope bool) ReviewerPool {
	vicePrincipals := ReviewerPool{Roles: []models.UserRole{models.RoleVicePrincipal}}
	if doc.Kind != models.DocumentKindPlan || doc.PlanType() != models.PlanTypeWeek {
		return vicePrincipals
	}
	if homeScope {
		vicePrincipals.Escalated = true
		return vicePrincipals
	}
	return ReviewerPool{Roles: []models.UserRole{models.RoleHeadTeacher}}
}
