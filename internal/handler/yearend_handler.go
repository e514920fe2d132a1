package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jdcruz-dev/sc-portal-api/internal/dto"
	"github.com/jdcruz-dev/sc-portal-api/internal/service"
	appErrors "github.com/jdcruz-dev/sc-portal-api/pkg/errors"
	"github.com/jdcruz-dev/sc-portal-api/pkg/response"
)

// YearEndHandler exposes the year-end processing endpoints.
type YearEndHandler struct {
	yearEnd *service.YearEndService
}

// NewYearEndHandler constructs YearEndHandler.
func NewYearEndHandler(yearEnd *service.YearEndService) *YearEndHandler {
	return &YearEndHandler{yearEnd: yearEnd}
}

// Run godoc
// @Summary Run year-end processing for the entire cohort
// @Tags YearEnd
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /year-end/run [post]
func (h *YearEndHandler) Run(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.yearEnd.Run(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ManualAction godoc
// @Summary Apply a manual year-end action to selected members
// @Tags YearEnd
// @Accept json
// @Produce json
// @Param payload body dto.ManualActionRequest true "Manual action payload"
// @Success 200 {object} response.Envelope
// @Router /year-end/manual-action [post]
func (h *YearEndHandler) ManualAction(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ManualActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.yearEnd.ApplyManualAction(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Review godoc
// @Summary Preview what the next year-end run would do
// @Tags YearEnd
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /year-end/review [get]
func (h *YearEndHandler) Review(c *gin.Context) {
	result, err := h.yearEnd.Review(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ExportSummary godoc
// @Summary Export the latest year-end summary
// @Tags YearEnd
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /year-end/summary/export [get]
func (h *YearEndHandler) ExportSummary(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	payload, contentType, err := h.yearEnd.ExportSummary(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	ext := "csv"
	if format == "pdf" {
		ext = "pdf"
	}
	filename := fmt.Sprintf("year-end-summary-%s.%s", time.Now().UTC().Format("20060102"), ext)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, contentType, payload)
}
