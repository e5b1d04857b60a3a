package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-review-api/internal/models"
	"github.com/noah-isme/sma-review-api/internal/service"
	appErrors "github.com/noah-isme/sma-review-api/pkg/errors"
	"github.com/noah-isme/sma-review-api/pkg/response"
)

type tokenIssuer interface {
	IssueToken(ctx context.Context, userID string) (*service.TokenResponse, error)
}

// AuthHandler wires HTTP endpoints to the auth service.
type AuthHandler struct {
	service tokenIssuer
}

// NewAuthHandler creates a new handler.
func NewAuthHandler(svc tokenIssuer) *AuthHandler {
	return &AuthHandler{service: svc}
}

type issueTokenRequest struct {
	UserID string `json:"userId" binding:"required"`
}

// IssueToken godoc
// @Summary Issue an access token
// @Description Signs an access token for an active user. Reserved for operators.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body issueTokenRequest true "Subject"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /auth/token [post]
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInvalidArgument.Code, http.StatusBadRequest, "userId is required"))
		return
	}
	res, err := h.service.IssueToken(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, res, nil)
}

// Me godoc
// @Summary Get current identity
// @Description Returns the identity carried by the access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	info := models.UserInfo{
		ID:       claims.UserID,
		Email:    claims.Email,
		FullName: claims.FullName,
		Role:     claims.Role,
	}
	response.JSON(c, http.StatusOK, info, nil)
}
