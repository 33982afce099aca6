package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// writeServiceError renders a service failure. Typed auth errors keep
// their code and use authStatus; anything else is an opaque 500.
func writeServiceError(c *gin.Context, err error, authStatus int, fallback string) {
	if authErr, ok := err.(AuthError); ok {
		c.JSON(authStatus, gin.H{
			"error":   authErr.Code,
			"message": authErr.Message,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "INTERNAL_ERROR",
		"message": fallback,
	})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "VALIDATION_ERROR",
		"message": err.Error(),
	})
}

// Register handles user registration
// POST /api/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	token, err := h.service.Register(c.Request.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if authErr, ok := err.(AuthError); ok && authErr.Code == ErrUsernameExists.Code {
			status = http.StatusConflict
		}
		writeServiceError(c, err, status, "failed to register user")
		return
	}

	c.JSON(http.StatusCreated, token)
}

// Login handles user login
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	token, err := h.service.Login(c.Request.Context(), req)
	if err != nil {
		writeServiceError(c, err, http.StatusUnauthorized, "failed to login")
		return
	}

	c.JSON(http.StatusOK, token)
}

// GetMe returns the authenticated user's profile
// GET /api/auth/me
func (h *Handlers) GetMe(c *gin.Context) {
	me, err := h.service.Me(c.Request.Context(), GetUserID(c))
	if err != nil {
		writeServiceError(c, err, http.StatusNotFound, "failed to get user")
		return
	}

	c.JSON(http.StatusOK, me)
}

// RegisterRoutes registers all auth routes
func (h *Handlers) RegisterRoutes(router *gin.RouterGroup) {
	// Public routes (no auth required)
	router.POST("/register", h.Register)
	router.POST("/login", h.Login)

	// Protected routes (auth required)
	protected := router.Group("")
	protected.Use(Middleware(h.service.GetJWTManager()))
	{
		protected.GET("/me", h.GetMe)
	}
}
