package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/voicediary/voicediary/internal/diary"
	"go.uber.org/zap"
)

var errMissingDiaryService = errors.New("diary service dependency required")

// maxAudioBytes bounds the multipart payload of a create request.
const maxAudioBytes = 64 << 20

// Dependencies wires the HTTP layer to the diary service.
type Dependencies struct {
	Diary  *diary.Service
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the diary protocol: the SSE
// entry stream plus the REST mutation endpoints.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Diary == nil {
		return nil, errMissingDiaryService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		diary:  deps.Diary,
		logger: logger,
	}

	router.GET("/health", handler.handleHealth)

	v1 := router.Group("/v1")
	v1.GET("/entries", handler.handleEntryStream)
	v1.POST("/entries", handler.handleCreateEntry)
	v1.PUT("/entries/:id/transcription", handler.handleUpdateTranscription)
	v1.DELETE("/entries/:id", handler.handleDeleteEntry)
	v1.GET("/entries/:id/audio", handler.handleEntryAudio)

	return router, nil
}

type httpHandler struct {
	diary  *diary.Service
	logger *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.Status(http.StatusOK)
}

// handleEntryStream serves the event-sourcing stream: one snapshot, then the
// live tail, one SSE frame per event. The connection stays open until the
// client goes away or the subscriber falls too far behind.
func (h *httpHandler) handleEntryStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cancel := h.diary.Subscribe(ctx)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				// Closed by the service: this subscriber lagged too far
				// behind. Ending the stream forces a resubscribe with a
				// fresh snapshot.
				h.logger.Warn("entry stream closed for slow subscriber")
				return false
			}
			payload, err := diary.EncodeEvent(event)
			if err != nil {
				h.logger.Error("failed to encode diary event", zap.Error(err))
				return false
			}
			c.Render(-1, sse.Event{Data: string(payload)})
			return true
		}
	})
}

func (h *httpHandler) handleCreateEntry(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxAudioBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_multipart"})
		return
	}

	metadata := c.Request.FormValue("metadata")
	if metadata == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_metadata"})
		return
	}
	entry, err := diary.ParseEntryMetadata([]byte(metadata))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_metadata"})
		return
	}

	audioFile, _, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_audio"})
		return
	}
	defer audioFile.Close() //nolint:errcheck
	audio, err := io.ReadAll(audioFile)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_audio"})
		return
	}

	if err := h.diary.Create(c.Request.Context(), entry, audio); err != nil {
		h.logger.Error("failed to create entry", zap.String("entry_id", entry.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *httpHandler) handleUpdateTranscription(c *gin.Context) {
	id, ok := parseEntryID(c)
	if !ok {
		return
	}

	var update diary.TranscriptionUpdate
	if err := c.ShouldBindJSON(&update); err != nil || !update.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	// A finished transcription without text is rejected rather than
	// normalized; accepting it would let DONE entries render empty.
	if update.Status == diary.TranscriptionDone && update.Text == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_transcription_text"})
		return
	}

	if err := h.diary.UpdateTranscription(c.Request.Context(), id, update); err != nil {
		h.logger.Error("failed to update transcription", zap.String("entry_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	c.Status(http.StatusOK)
}

func (h *httpHandler) handleDeleteEntry(c *gin.Context) {
	id, ok := parseEntryID(c)
	if !ok {
		return
	}

	if err := h.diary.Delete(c.Request.Context(), id); err != nil {
		h.logger.Error("failed to delete entry", zap.String("entry_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleEntryAudio(c *gin.Context) {
	id, ok := parseEntryID(c)
	if !ok {
		return
	}

	audio, err := h.diary.GetAudio(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, diary.ErrAudioNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "audio_not_found"})
			return
		}
		h.logger.Error("failed to read audio", zap.String("entry_id", id.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audio_read_failed"})
		return
	}

	c.Data(http.StatusOK, "audio/wav", audio)
}

func parseEntryID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_entry_id"})
		return uuid.Nil, false
	}
	return id, true
}
