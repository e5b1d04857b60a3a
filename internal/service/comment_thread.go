package service

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/sma-review-api/internal/models"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
)

// CommentSanitizer reduces user supplied content to plain text.
type CommentSanitizer struct {
	policy    *bluemonday.Policy
	maxLength int
}

// NewCommentSanitizer builds a sanitizer. A non-positive maxLength disables the length check.
func NewCommentSanitizer(maxLength int) *CommentSanitizer {
	return &CommentSanitizer{policy: bluemonday.StrictPolicy(), maxLength: maxLength}
}

const maxStripPasses = 4

// Strip reduces content to plain text without surrounding whitespace. Entities are decoded and
// the result sanitised again until it is stable, so encoded markup never comes back as markup.
func (s *CommentSanitizer) Strip(content string) string {
	out := content
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(html.UnescapeString(out)))
		if next == out {
			return strings.TrimSpace(out)
		}
		out = next
	}
	// still nested after every pass: keep it escaped
	return strings.TrimSpace(s.policy.Sanitize(out))
}

// CheckLength enforces the configured limit.
func (s *CommentSanitizer) CheckLength(content string) error {
	if s.maxLength > 0 && utf8.RuneCountInString(content) > s.maxLength {
		return appErrors.Clone(appErrors.ErrInvalidArgument, fmt.Sprintf("content exceeds %d characters", s.maxLength))
	}
	return nil
}

// Clean strips markup and rejects content that ends up empty or too long.
func (s *CommentSanitizer) Clean(content string) (string, error) {
	cleaned := s.Strip(content)
	if cleaned == "" {
		return "", appErrors.Clone(appErrors.ErrInvalidArgument, "content is required")
	}
	if err := s.CheckLength(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}

// commentAuthorizer decides whether actor may edit or delete comment.
type commentAuthorizer func(actor models.Actor, comment models.Comment) bool

// PostComment appends a comment to the thread.
func PostComment(doc *models.Document, author models.Actor, content string, commentType models.CommentType, now time.Time, id string) (*models.Comment, error) {
	if !commentType.Valid() {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "comment type must be comment, request or response")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "content is required")
	}
	comment := models.Comment{
		ID:         id,
		DocumentID: doc.ID,
		Type:       commentType,
		UserID:     author.UserID,
		UserName:   author.Name,
		UserRole:   author.Role,
		Content:    content,
		Timestamp:  now.UTC(),
	}
	doc.Comments = append(doc.Comments, comment)
	return &comment, nil
}

// EditComment replaces the content of a comment in place, keeping its id and timestamp.
func EditComment(doc *models.Document, commentID, content string, actor models.Actor, allowed commentAuthorizer, now time.Time) (*models.Comment, error) {
	idx := doc.CommentIndex(commentID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
	}
	if !allowed(actor, doc.Comments[idx]) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only the author or a manager may edit this comment")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidArgument, "content is required")
	}
	at := now.UTC()
	doc.Comments[idx].Content = content
	doc.Comments[idx].EditedAt = &at
	edited := doc.Comments[idx]
	return &edited, nil
}

// DeleteComment removes a comment from the thread and returns it.
func DeleteComment(doc *models.Document, commentID string, actor models.Actor, allowed commentAuthorizer) (*models.Comment, error) {
	idx := doc.CommentIndex(commentID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "comment not found")
	}
	removed := doc.Comments[idx]
	if !allowed(actor, removed) {
		return nil, appErrors.Clone(appErrors.ErrPermissionDenied, "only the author or a manager may delete this comment")
	}
	doc.Comments = append(doc.Comments[:idx:idx], doc.Comments[idx+1:]...)
	return &removed, nil
}
