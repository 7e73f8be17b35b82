package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/providers/stt"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/selfscribe/selfscribe/internal/utils"
	"github.com/sirupsen/logrus"
)

// WebhookHandler receives transcription completion callbacks from the
// provider. It is unauthenticated at the JWT layer; authenticity is
// established by the HMAC signature over the raw body instead.
type WebhookHandler struct {
	svc    services.IngestService
	secret string
	logger *logrus.Logger
}

func NewWebhookHandler(svc services.IngestService, secret string, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, secret: secret, logger: logger}
}

func (h *WebhookHandler) Transcription(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WebhookHandler.Transcription", "could not read request body", err))
		return
	}

	if !stt.VerifySignature(c.GetHeader(stt.SignatureHeader), body, h.secret) {
		h.logger.WithField("remote_addr", c.ClientIP()).Warn("webhook signature verification failed")
		writeError(c, utils.E(utils.CodeUnauthorized, "WebhookHandler.Transcription", "invalid webhook signature", nil))
		return
	}

	var payload stt.CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "WebhookHandler.Transcription", "malformed callback payload", err))
		return
	}

	outcome, err := h.svc.HandleCallback(c.Request.Context(), payload)
	if err != nil {
		writeError(c, err)
		return
	}

	// Duplicate deliveries are acknowledged so the provider stops
	// retrying; the chunk stays in its first terminal state.
	c.JSON(http.StatusOK, outcome)
}
