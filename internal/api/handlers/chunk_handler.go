package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/services"
	"github.com/selfscribe/selfscribe/internal/utils"
)

type ChunkHandler struct {
	svc services.IngestService
}

func NewChunkHandler(svc services.IngestService) *ChunkHandler {
	return &ChunkHandler{svc: svc}
}

type SubmitChunkRequest struct {
	AudioBase64 string   `json:"audio_base64" binding:"required"`
	DeviceID    *string  `json:"device_id"`
	GPSLat      *float64 `json:"gps_lat"`
	GPSLon      *float64 `json:"gps_lon"`
}

type SubmitChunkResponse struct {
	ChunkID string `json:"chunk_id"`
	Status  string `json:"status"`
}

// Submit acknowledges receipt and queues processing; it never waits for
// transcription.
func (h *ChunkHandler) Submit(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req SubmitChunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChunkHandler.Submit", "invalid request body", err))
		return
	}

	wav, err := decodeAudioBase64(req.AudioBase64)
	if err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "ChunkHandler.Submit", "audio_base64 is not valid base64", err))
		return
	}

	chunk, err := h.svc.SubmitChunk(c.Request.Context(), userID, services.SubmitChunkInput{
		WAV:      wav,
		DeviceID: req.DeviceID,
		GPSLat:   req.GPSLat,
		GPSLon:   req.GPSLon,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitChunkResponse{
		ChunkID: chunk.ID,
		Status:  "queued",
	})
}

type SegmentOut struct {
	ID            uint    `json:"id"`
	StartMS       int64   `json:"start_ms"`
	EndMS         int64   `json:"end_ms"`
	Text          string  `json:"text"`
	AvgConfidence float64 `json:"avg_confidence"`
}

type GetChunkResponse struct {
	ChunkID   string       `json:"chunk_id"`
	Status    string       `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	DeviceID  *string      `json:"device_id,omitempty"`
	GPSLat    *float64     `json:"gps_lat,omitempty"`
	GPSLon    *float64     `json:"gps_lon,omitempty"`
	Address   string       `json:"address,omitempty"`
	CreatedAt string       `json:"created_at"`
	Segments  []SegmentOut `json:"segments"`
}

func (h *ChunkHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	chunk, segs, loc, err := h.svc.GetChunk(c.Request.Context(), userID, c.Param("chunk_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := GetChunkResponse{
		ChunkID:   chunk.ID,
		Status:    string(chunk.Status),
		Reason:    chunk.Reason,
		DeviceID:  chunk.DeviceID,
		GPSLat:    chunk.GPSLat,
		GPSLon:    chunk.GPSLon,
		CreatedAt: chunk.CreatedAt.Format(time.RFC3339),
		Segments:  make([]SegmentOut, 0, len(segs)),
	}
	if loc != nil {
		resp.Address = loc.Address
	}
	for _, s := range segs {
		resp.Segments = append(resp.Segments, SegmentOut{
			ID:            s.ID,
			StartMS:       s.StartMS,
			EndMS:         s.EndMS,
			Text:          s.Text,
			AvgConfidence: s.AvgConfidence,
		})
	}

	c.JSON(http.StatusOK, resp)
}
