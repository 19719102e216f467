package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unimath/placement-backend/internal/response"
	"github.com/unimath/placement-backend/internal/service"
)

// AdminHandler handles the administrative exam session endpoints.
type AdminHandler struct {
	placementService *service.PlacementService
	authService      *service.AuthService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(placementService *service.PlacementService, authService *service.AuthService) *AdminHandler {
	return &AdminHandler{
		placementService: placementService,
		authService:      authService,
	}
}

// ListActiveSessions godoc
// GET /api/v1/admin/sessions
// Returns a summary of every exam session in progress.
func (h *AdminHandler) ListActiveSessions(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"sessions": h.placementService.ActiveSessions(),
	})
}

// ForceAbort godoc
// POST /api/v1/admin/sessions/:student_id/abort
// Abandons a student's exam session without grading it.
func (h *AdminHandler) ForceAbort(c *gin.Context) {
	studentID := c.Param("student_id")

	if err := h.placementService.ForceAbort(c.Request.Context(), studentID); err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ForceSubmit godoc
// POST /api/v1/admin/sessions/:student_id/submit
// Grades a student's exam session as-is and removes it.
func (h *AdminHandler) ForceSubmit(c *gin.Context) {
	studentID := c.Param("student_id")

	if err := h.placementService.ForceSubmit(c.Request.Context(), studentID); err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// ResetStudentLogin godoc
// POST /api/v1/admin/students/:student_id/reset-login
// Clears a student's login session so they can log in again.
func (h *AdminHandler) ResetStudentLogin(c *gin.Context) {
	studentID := c.Param("student_id")

	if err := h.authService.ResetStudentSession(c.Request.Context(), studentID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
