package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/selfscribe/selfscribe/internal/utils"
)

type EnrollmentHandler struct {
	svc services.EnrollmentService
}

func NewEnrollmentHandler(svc services.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{svc: svc}
}

// decodeAudioBase64 accepts plain base64 or a data: URL payload.
func decodeAudioBase64(raw string) ([]byte, error) {
	if i := strings.Index(raw, ","); i >= 0 {
		raw = raw[i+1:]
	}
	return base64.StdEncoding.DecodeString(raw)
}

type CompleteEnrollmentRequest struct {
	AudioBase64  string `json:"audio_base64" binding:"required"`
	PhraseText   string `json:"phrase_text"`
	EditDistance *int   `json:"edit_distance"`
}

type CompleteEnrollmentResponse struct {
	EnrollmentID uint   `json:"enrollment_id"`
	DurationMS   int64  `json:"duration_ms"`
	CreatedAt    string `json:"created_at"`
}

func (h *EnrollmentHandler) Complete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req CompleteEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "EnrollmentHandler.Complete", "invalid request body", err))
		return
	}

	wav, err := decodeAudioBase64(req.AudioBase64)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "EnrollmentHandler.Complete", "audio_base64 is not valid base64", err))
		return
	}

	e, err := h.svc.Complete(c.Request.Context(), userID, wav, req.PhraseText, req.EditDistance)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CompleteEnrollmentResponse{
		EnrollmentID: e.ID,
		DurationMS:   e.DurationMS,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	})
}

func (h *EnrollmentHandler) Reset(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	if err := h.svc.Reset(c.Request.Context(), userID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "ready for new enrollment"})
}

type EnrollmentStatusResponse struct {
	Enrolled     bool   `json:"enrolled"`
	EnrollmentID uint   `json:"enrollment_id,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

func (h *EnrollmentHandler) Status(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	e, err := h.svc.Status(c.Request.Context(), userID)
	if err != nil {
		var ae *utils.AppError
		if errors.As(err, &ae) && ae.Code == utils.CodeNotFound {
			c.JSON(http.StatusOK, EnrollmentStatusResponse{Enrolled: false})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, EnrollmentStatusResponse{
		Enrolled:     true,
		EnrollmentID: e.ID,
		DurationMS:   e.DurationMS,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	})
}
