package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campus-core/enrollment-api/internal/models"
	"github.com/campus-core/enrollment-api/internal/service"
	appErrors "github.com/campus-core/enrollment-api/pkg/errors"
	"github.com/campus-core/enrollment-api/pkg/response"
)

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Create godoc
// @Summary Enroll a student into a course section
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	// Students can only enroll themselves.
	if claims.Role == models.RoleStudent {
		if req.StudentID != "" && req.StudentID != claims.UserID {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "students may only enroll themselves"))
			return
		}
		req.StudentID = claims.UserID
		req.UserNumber = claims.UserNumber
	}

	enrollment, err := h.enrollments.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Delete godoc
// @Summary Drop an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	admin := claims.Role == models.RoleAdmin
	enrollment, err := h.enrollments.Drop(c.Request.Context(), c.Param("id"), claims.UserID, admin)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// ListForStudent godoc
// @Summary List a student's enrollments
// @Tags Enrollments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/enrollments [get]
func (h *EnrollmentHandler) ListForStudent(c *gin.Context) {
	enrollments, err := h.enrollments.ListForStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}

// Roster godoc
// @Summary Course roster ordered by enrollment sequence
// @Tags Enrollments
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/roster [get]
func (h *EnrollmentHandler) Roster(c *gin.Context) {
	roster, err := h.enrollments.ListForCourse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster, nil)
}

// ExportRoster godoc
// @Summary Export the course roster
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Course ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} byte
// @Router /courses/{id}/roster/export [get]
func (h *EnrollmentHandler) ExportRoster(c *gin.Context) {
	courseID := c.Param("id")
	format := c.DefaultQuery("format", "csv")

	payload, contentType, err := h.enrollments.ExportRoster(c.Request.Context(), courseID, format)
	if err != nil {
		response.Error(c, err)
		return
	}

	ext := "csv"
	if format == "pdf" {
		ext = "pdf"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=roster-%s.%s", courseID, ext))
	c.Data(http.StatusOK, contentType, payload)
}
