package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nifty-insight-server/internal/settings"
)

// ============================================================================
// SETTINGS HANDLERS
// ============================================================================

type updateValueRequest struct {
	Path string `json:"path" binding:"required"`
	// Value carries no binding tag: false and 0 are legitimate values
	// and would fail a required check.
	Value interface{} `json:"value"`
}

type savePresetRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// handleGetSettings returns the full settings state for the user.
func (s *Server) handleGetSettings(c *gin.Context) {
	successResponse(c, s.store(c).State())
}

// handleUpdateSettings applies a partial settings document. The whole
// batch is validated before anything is written; one bad path rejects
// the entire request.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "Failed to read request body")
		return
	}

	store := s.store(c)
	if err := store.ApplyPartial(raw); err != nil {
		if errors.Is(err, settings.ErrUnknownPath) || errors.Is(err, settings.ErrInvalidValue) {
			errorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "Failed to apply settings")
		return
	}

	successResponse(c, store.State())
}

// handleResetSettings restores defaults, keeping saved presets.
func (s *Server) handleResetSettings(c *gin.Context) {
	store := s.store(c)
	store.ResetSettings()
	successResponse(c, store.State())
}

// handleUpdateSettingValue sets a single dotted-path setting.
func (s *Server) handleUpdateSettingValue(c *gin.Context) {
	var req updateValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "path is required")
		return
	}

	store := s.store(c)
	if err := store.UpdateSetting(req.Path, req.Value); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	successResponse(c, store.State())
}

// handleGetPresets lists the user's saved presets.
func (s *Server) handleGetPresets(c *gin.Context) {
	store := s.store(c)

	var active interface{}
	if id := store.ActivePresetID(); id != "" {
		active = id
	}

	successResponse(c, gin.H{
		"presets":        store.Presets(),
		"activePresetId": active,
	})
}

// handleSavePreset snapshots the current settings under a new preset.
func (s *Server) handleSavePreset(c *gin.Context) {
	var req savePresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "name is required")
		return
	}

	preset := s.store(c).SavePreset(req.Name, req.Description)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    preset,
	})
}

// handleLoadPreset activates a saved preset. Loading an unknown id
// leaves the current settings untouched.
func (s *Server) handleLoadPreset(c *gin.Context) {
	store := s.store(c)
	store.LoadPreset(c.Param("id"))
	successResponse(c, store.State())
}

// handleDeletePreset removes a preset, clearing it as active if needed.
func (s *Server) handleDeletePreset(c *gin.Context) {
	store := s.store(c)
	store.DeletePreset(c.Param("id"))
	successResponse(c, store.State())
}
