// Package session implements the login endpoints: publishing the PBKDF2
// parameters and exchanging a challenge-response proof for a session token.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/overseer-lite/overseer-lite/internal/auth"
)

// Authenticator is the login side of *auth.Service.
type Authenticator interface {
	Iterations() int
	Policy() auth.RateLimitPolicy
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error)
}

// Handlers serves /api/auth.
type Handlers struct {
	auth Authenticator
}

// NewHandlers creates session handlers.
func NewHandlers(authenticator Authenticator) *Handlers {
	return &Handlers{auth: authenticator}
}

// VerifyRequest is the login body. Hash is hex(SHA-256(PBKDF2(password, origin) + ":" + timestamp)).
type VerifyRequest struct {
	Origin    string `json:"origin" binding:"required"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Hash      string `json:"hash" binding:"required"`
	Name      string `json:"name"`
}

// @Summary      Login parameters
// @Description  Returns the PBKDF2 iteration count clients must use to derive the login key.
// @Tags         Auth
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "iterations"
// @Router       /api/auth/params [get]
func (h *Handlers) Params(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iterations": h.auth.Iterations()})
}

// @Summary      Verify login proof
// @Description  Exchanges a timestamped proof of the shared password for a session token.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        body  body  VerifyRequest  true  "Login proof"
// @Success      200  {object}  map[string]interface{}  "valid, token, name"
// @Failure      400  {object}  map[string]interface{}  "Invalid request or display name"
// @Failure      401  {object}  map[string]interface{}  "Invalid credentials"
// @Failure      429  {object}  map[string]interface{}  "Too many failed attempts"
// @Failure      503  {object}  map[string]interface{}  "Login temporarily unavailable"
// @Router       /api/auth/verify [post]
func (h *Handlers) Verify(c *gin.Context) {
	var body VerifyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), auth.LoginRequest{
		Origin:      body.Origin,
		Timestamp:   body.Timestamp,
		Proof:       body.Hash,
		DisplayName: body.Name,
		ClientKey:   c.ClientIP(),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true, "token": result.Token, "name": result.DisplayName})
	case errors.Is(err, auth.ErrRateLimited):
		window := h.auth.Policy().Window
		c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Too many failed attempts. Try again in %d minutes.", int(window.Minutes())),
		})
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, auth.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Name is required (max %d chars)", auth.MaxDisplayNameLength),
		})
	default:
		slog.Error("login failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Login temporarily unavailable"})
	}
}
