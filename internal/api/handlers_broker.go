package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nifty-insight-server/internal/logging"
	"nifty-insight-server/internal/vault"
)

// ============================================================================
// BROKER CREDENTIAL HANDLERS
// ============================================================================

type credentialsRequest struct {
	Broker       string `json:"broker" binding:"required"`
	APIKey       string `json:"api_key" binding:"required"`
	APISecret    string `json:"api_secret" binding:"required"`
	RefreshToken string `json:"refresh_token"`
}

// maskCredentials strips the secrets from a credential set. Only the
// last four characters of the API key ever leave the server.
func maskCredentials(creds vault.Credentials) gin.H {
	return gin.H{
		"broker":            creds.Broker,
		"api_key_last_four": lastFour(creds.APIKey),
		"has_refresh_token": creds.RefreshToken != "",
	}
}

func lastFour(s string) string {
	if len(s) < 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// handleGetBrokerCredentials returns the masked credentials for one
// broker, or for all of the user's brokers when none is named.
func (s *Server) handleGetBrokerCredentials(c *gin.Context) {
	if s.vaultClient == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Credential store unavailable")
		return
	}

	userID := s.getUserID(c)
	ctx := c.Request.Context()

	if broker := c.Query("broker"); broker != "" {
		creds, err := s.vaultClient.GetCredentials(ctx, userID, broker)
		if err != nil {
			errorResponse(c, http.StatusNotFound, "Credentials not found")
			return
		}
		successResponse(c, maskCredentials(*creds))
		return
	}

	list, err := s.vaultClient.ListCredentials(ctx, userID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to list credentials")
		return
	}

	masked := make([]gin.H, 0, len(list))
	for _, creds := range list {
		masked = append(masked, maskCredentials(creds))
	}
	successResponse(c, gin.H{"credentials": masked})
}

// handleStoreBrokerCredentials saves a broker credential set for the user.
func (s *Server) handleStoreBrokerCredentials(c *gin.Context) {
	if s.vaultClient == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Credential store unavailable")
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "broker, api_key and api_secret are required")
		return
	}

	creds := vault.Credentials{
		Broker:       req.Broker,
		APIKey:       req.APIKey,
		APISecret:    req.APISecret,
		RefreshToken: req.RefreshToken,
	}

	userID := s.getUserID(c)
	if err := s.vaultClient.StoreCredentials(c.Request.Context(), userID, creds); err != nil {
		logging.FromContext(c.Request.Context()).Error("Failed to store credentials",
			"user", userID, "broker", req.Broker, "error", err)
		errorResponse(c, http.StatusInternalServerError, "Failed to store credentials")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    gin.H{"broker": req.Broker},
	})
}

// handleDeleteBrokerCredentials removes one broker's credentials.
func (s *Server) handleDeleteBrokerCredentials(c *gin.Context) {
	if s.vaultClient == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Credential store unavailable")
		return
	}

	broker := c.Query("broker")
	if broker == "" {
		errorResponse(c, http.StatusBadRequest, "broker is required")
		return
	}

	userID := s.getUserID(c)
	if err := s.vaultClient.DeleteCredentials(c.Request.Context(), userID, broker); err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to delete credentials")
		return
	}

	successResponse(c, gin.H{"broker": broker, "deleted": true})
}
