package service

import (
	"context"
	"strings"

	"github.com/noah-isme/sma-review-api/internal/models"
)

type homeScopeChecker interface {
	IsHeadTeacherHomeClass(ctx context.Context, classID string) (bool, error)
}

// ReviewPolicy answers the capability questions the workflow asks about an actor.
type ReviewPolicy struct {
	homes    homeScopeChecker
	managers map[models.UserRole]struct{}
}

// NewReviewPolicy builds a policy. managerRoles lists the roles allowed to manage any comment
// or document regardless of authorship.
func NewReviewPolicy(homes homeScopeChecker, managerRoles []string) *ReviewPolicy {
	managers := make(map[models.UserRole]struct{}, len(managerRoles))
	for _, role := range managerRoles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role != "" {
			managers[models.UserRole(role)] = struct{}{}
		}
	}
	return &ReviewPolicy{homes: homes, managers: managers}
}

// ReviewerPool resolves the pool for doc. Only week plans need the home class lookup.
func (p *ReviewPolicy) ReviewerPool(ctx context.Context, doc *models.Document) (ReviewerPool, error) {
	homeScope := false
	if doc.Kind == models.DocumentKindPlan && doc.PlanType() == models.PlanTypeWeek && p.homes != nil {
		var err error
		homeScope, err = p.homes.IsHeadTeacherHomeClass(ctx, doc.ClassID)
		if err != nil {
			return ReviewerPool{}, err
		}
	}
	return ResolveReviewerPool(doc, homeScope), nil
}

// CanApprove reports whether actor holds the reviewer capability for doc.
func (p *ReviewPolicy) CanApprove(ctx context.Context, actor models.Actor, doc *models.Document) (bool, error) {
	pool, err := p.ReviewerPool(ctx, doc)
	if err != nil {
		return false, err
	}
	return pool.Contains(actor.Role), nil
}

// IsManager reports whether actor holds a configured manager role.
func (p *ReviewPolicy) IsManager(actor models.Actor) bool {
	_, ok := p.managers[actor.Role]
	return ok
}

// CanManageComment allows the author or a manager.
func (p *ReviewPolicy) CanManageComment(actor models.Actor, comment models.Comment) bool {
	return (actor.UserID != "" && actor.UserID == comment.UserID) || p.IsManager(actor)
}

// CanDeleteDocument allows the uploader or a manager.
func (p *ReviewPolicy) CanDeleteDocument(actor models.Actor, doc *models.Document) bool {
	return (actor.UserID != "" && actor.UserID == doc.UploaderID) || p.IsManager(actor)
}
