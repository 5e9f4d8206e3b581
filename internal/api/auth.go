package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storefront/internal/backend"
	"storefront/internal/models"
	"storefront/internal/session"
	"storefront/internal/storefront"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

func (r credentialsRequest) credentials() backend.Credentials {
	return backend.Credentials{Email: r.Email, Password: r.Password, FullName: r.FullName}
}

type sessionResponse struct {
	SessionID string           `json:"session_id,omitempty"`
	Identity  *models.Identity `json:"identity"`
	Profile   *models.Profile  `json:"profile"`
}

func describe(id string, front *storefront.Storefront) sessionResponse {
	return sessionResponse{
		SessionID: id,
		Identity:  front.Session.CurrentIdentity(),
		Profile:   front.Session.Profile(),
	}
}

// signUp creates an account and signs it in
func (h *Handler) signUp(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, front, err := h.registry.SignUp(c.Request.Context(), req.credentials())
	if errors.Is(err, session.ErrConfirmationPending) {
		c.JSON(http.StatusAccepted, gin.H{"status": "confirmation_pending", "message": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, describe(id, front))
}

// signIn opens a new session
func (h *Handler) signIn(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	id, front, err := h.registry.SignIn(c.Request.Context(), req.credentials())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, describe(id, front))
}

// signOut ends the session. The session is gone even if the backend logout failed.
func (h *Handler) signOut(c *gin.Context) {
	err := h.registry.SignOut(c.Request.Context(), sessionID(c))
	if err != nil && !errors.Is(err, models.ErrUnauthenticated) {
		h.logger.Warn("sign out reported a remote failure", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, describe("", current(c)))
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req session.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	profile, err := current(c).Session.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}
