package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/selfscribe/selfscribe/internal/api/handlers"
	"github.com/selfscribe/selfscribe/internal/api/middleware"
)

type Deps struct {
	Enrollment *handlers.EnrollmentHandler
	Chunk      *handlers.ChunkHandler
	Webhook    *handlers.WebhookHandler
	Timeline   *handlers.TimelineHandler
	Audio      *handlers.AudioHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// Provider callback; authenticated by HMAC signature, not JWT.
	r.POST("/webhooks/transcription", d.Webhook.Transcription)

	// Protected routes (JWT)
	auth := r.Group("/")
	auth.Use(middleware.JWTAuth())

	auth.POST("/enrollment/complete", d.Enrollment.Complete)
	auth.GET("/enrollment/status", d.Enrollment.Status)
	auth.POST("/enrollment/reset", d.Enrollment.Reset)

	auth.POST("/chunks", d.Chunk.Submit)
	auth.GET("/chunks/:chunk_id", d.Chunk.Get)

	auth.GET("/timeline", d.Timeline.List)
	auth.GET("/timeline/search", d.Timeline.Search)

	auth.GET("/audio/utterances/:utterance_id", d.Audio.Utterance)
	auth.GET("/audio/chunks/:chunk_id", d.Audio.Chunk)
}
