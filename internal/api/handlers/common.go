package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/utils"
)

// APIError is the error body for every endpoint, webhook included. The
// request id is echoed so app logs can be matched against server logs
// when a chunk upload or callback misbehaves.
type APIError struct {
	Code      utils.Code `json:"code"`
	Message   string     `json:"message"`
	RequestID string     `json:"request_id,omitempty"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	body := APIError{
		Code:      utils.CodeInternal,
		Message:   http.StatusText(status),
		RequestID: c.GetString("request_id"),
	}

	var ae *utils.AppError
	if errors.As(err, &ae) {
		body.Code = ae.Code
		body.Message = ae.Message
	}

	c.JSON(status, body)
}

// requireUserID reads the user id the JWT middleware stashed on the
// context. Every authenticated route scopes its queries by this value.
func requireUserID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("user_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return "", false
}
