package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/selfscribe/selfscribe/internal/utils"
)

type AudioHandler struct {
	svc services.AudioService
}

func NewAudioHandler(svc services.AudioService) *AudioHandler {
	return &AudioHandler{svc: svc}
}

func (h *AudioHandler) Utterance(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("utterance_id"), 10, 64)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "AudioHandler.Utterance", "utterance_id must be an integer", err))
		return
	}

	wav, err := h.svc.UtteranceAudio(c.Request.Context(), userID, id)
	if err != nil {
		writeError(c, err)
		return
	}

	serveWAV(c, fmt.Sprintf("utterance-%d.wav", id), wav)
}

func (h *AudioHandler) Chunk(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	chunkID := c.Param("chunk_id")
	wav, err := h.svc.ChunkAudio(c.Request.Context(), userID, chunkID)
	if err != nil {
		writeError(c, err)
		return
	}

	serveWAV(c, fmt.Sprintf("chunk-%s.wav", chunkID), wav)
}

func serveWAV(c *gin.Context, filename string, wav []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	c.Data(http.StatusOK, "audio/wav", wav)
}
