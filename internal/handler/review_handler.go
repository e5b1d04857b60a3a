package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-review-api/internal/dto"
	"github.com/noah-isme/sma-review-api/internal/models"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
	"github.com/noah-isme/sma-review-api/pkg/response"
)

type reviewService interface {
	Create(ctx context.Context, req dto.CreateDocumentRequest, actor models.Actor) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, query dto.DocumentQuery) ([]models.Document, *models.Pagination, error)
	ReviewerPool(ctx context.Context, id string) (*dto.ReviewerPoolResponse, error)
	Approve(ctx context.Context, id string, actor models.Actor) (*models.Document, error)
	RequestRevision(ctx context.Context, id string, req dto.RequestRevisionRequest, actor models.Actor) (*models.Document, error)
	Delete(ctx context.Context, id string, actor models.Actor) error
	PostComment(ctx context.Context, id string, req dto.PostCommentRequest, actor models.Actor) (*models.Comment, error)
	EditComment(ctx context.Context, id, commentID string, req dto.EditCommentRequest, actor models.Actor) (*models.Comment, error)
	DeleteComment(ctx context.Context, id, commentID string, actor models.Actor) error
	History(ctx context.Context, id string, limit int) ([]models.AuditLog, error)
}

// ReviewHandler exposes the document review workflow and comment threads.
type ReviewHandler struct {
	service reviewService
}

// NewReviewHandler constructs the handler.
func NewReviewHandler(svc reviewService) *ReviewHandler {
	return &ReviewHandler{service: svc}
}

// Create godoc
// @Summary Register a document for review
// @Tags Review
// @Accept json
// @Produce json
// @Param payload body dto.CreateDocumentRequest true "Document payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reviews/documents [post]
func (h *ReviewHandler) Create(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, http.StatusBadRequest, "invalid document payload"))
		return
	}
	doc, err := h.service.Create(c.Request.Context(), req, *actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// List godoc
// @Summary List review documents
// @Tags Review
// @Produce json
// @Param classId query []string false "Class filter" collectionFormat(multi)
// @Param kind query string false "Document kind"
// @Param planType query string false "Plan cadence"
// @Param week query int false "Week"
// @Param month query int false "Month"
// @Param year query int false "Year"
// @Param status query []string false "Approval status" collectionFormat(multi)
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reviews/documents [get]
func (h *ReviewHandler) List(c *gin.Context) {
	query := dto.DocumentQuery{
		ClassIDs: parseQueryList(c, "classId"),
		Kind:     models.DocumentKind(c.Query("kind")),
		PlanType: models.PlanType(c.Query("planType")),
		Week:     parseQueryInt(c, "week", 0),
		Month:    parseQueryInt(c, "month", 0),
		Year:     parseQueryInt(c, "year", 0),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 0),
	}
	for _, status := range parseQueryList(c, "status") {
		query.Status = append(query.Status, models.ApprovalStatus(status))
	}
	docs, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, docs, pagination)
}

// Get godoc
// @Summary Get a review document with its thread
// @Tags Review
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/documents/{id} [get]
func (h *ReviewHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Reviewers godoc
// @Summary Resolve who may review a document
// @Tags Review
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/documents/{id}/reviewers [get]
func (h *ReviewHandler) Reviewers(c *gin.Context) {
	pool, err := h.service.ReviewerPool(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pool, nil)
}

// Approve godoc
// @Summary Approve a document
// @Tags Review
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reviews/documents/{id}/approve [post]
func (h *ReviewHandler) Approve(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	doc, err := h.service.Approve(c.Request.Context(), c.Param("id"), *actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// RequestRevision godoc
// @Summary Send a document back for revision
// @Tags Review
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.RequestRevisionRequest true "Revision reason"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /reviews/documents/{id}/revision [post]
func (h *ReviewHandler) RequestRevision(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RequestRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, http.StatusBadRequest, "invalid revision payload"))
		return
	}
	doc, err := h.service.RequestRevision(c.Request.Context(), c.Param("id"), req, *actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Delete godoc
// @Summary Delete a document
// @Tags Review
// @Param id path string true "Document ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Router /reviews/documents/{id} [delete]
func (h *ReviewHandler) Delete(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), *actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PostComment godoc
// @Summary Append a comment to a document thread
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.PostCommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /reviews/documents/{id}/comments [post]
func (h *ReviewHandler) PostComment(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.PostCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.PostComment(c.Request.Context(), c.Param("id"), req, *actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// EditComment godoc
// @Summary Edit a comment
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param commentId path string true "Comment ID"
// @Param payload body dto.EditCommentRequest true "New content"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/documents/{id}/comments/{commentId} [patch]
func (h *ReviewHandler) EditComment(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EditCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.EditComment(c.Request.Context(), c.Param("id"), c.Param("commentId"), req, *actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comment, nil)
}

// DeleteComment godoc
// @Summary Delete a comment
// @Tags Comments
// @Param id path string true "Document ID"
// @Param commentId path string true "Comment ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reviews/documents/{id}/comments/{commentId} [delete]
func (h *ReviewHandler) DeleteComment(c *gin.Context) {
	actor := actorFromContext(c)
	if actor == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	if err := h.service.DeleteComment(c.Request.Context(), c.Param("id"), c.Param("commentId"), *actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// History godoc
// @Summary Audit trail of a document
// @Tags Review
// @Produce json
// @Param id path string true "Document ID"
// @Param limit query int false "Maximum entries"
// @Success 200 {object} response.Envelope
// @Router /reviews/documents/{id}/history [get]
func (h *ReviewHandler) History(c *gin.Context) {
	entries, err := h.service.History(c.Request.Context(), c.Param("id"), parseQueryInt(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
