package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unimath/placement-backend/internal/middleware"
	"github.com/unimath/placement-backend/internal/model"
	"github.com/unimath/placement-backend/internal/response"
	"github.com/unimath/placement-backend/internal/service"
	"github.com/unimath/placement-backend/internal/session"
	"github.com/unimath/placement-backend/internal/validator"
)

// PlacementHandler handles the student-facing exam session endpoints.
type PlacementHandler struct {
	placementService *service.PlacementService
}

// NewPlacementHandler creates a new PlacementHandler.
func NewPlacementHandler(placementService *service.PlacementService) *PlacementHandler {
	return &PlacementHandler{placementService: placementService}
}

// StartExam godoc
// POST /api/v1/student/exams
// Opens an exam session for the authenticated student, or resumes the one
// already in progress.
func (h *PlacementHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.ExamStartRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	r, err := h.placementService.StartExam(c.Request.Context(), claims.StudentID, req.ExamRef, req.Proctored, req.RedirectOnEnd)
	if err != nil {
		if errors.Is(err, session.ErrSessionTimedOut) {
			response.Fail(c, http.StatusConflict, response.ErrSessionExpired)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, r)
}

// GetExamState godoc
// GET /api/v1/student/exams/current
// Returns the render data for the student's session in progress.
func (h *PlacementHandler) GetExamState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	r, err := h.placementService.Render(claims.StudentID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
		return
	}

	response.Success(c, http.StatusOK, r)
}

// ExamAction godoc
// POST /api/v1/student/exams/action
// Applies one action (navigation, answers, submit, survey page, close) to
// the student's session in progress.
func (h *PlacementHandler) ExamAction(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.ExamActionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	in := session.Input{
		Action:   req.Action,
		EchoSect: -1,
		EchoItem: -1,
		Answers:  req.Answers,
		Survey:   req.Survey,
	}
	if req.Sect != nil {
		in.EchoSect = *req.Sect
	}
	if req.Item != nil {
		in.EchoItem = *req.Item
	}

	r, err := h.placementService.Act(c.Request.Context(), claims.StudentID, in)
	if err != nil {
		if errors.Is(err, service.ErrNoActiveSession) {
			response.Fail(c, http.StatusNotFound, response.ErrNoActiveSession)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, r)
}
