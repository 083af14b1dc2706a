package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"medrag/ingest"
	"medrag/types"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// stallTimeout terminates a progress stream that stops receiving
// updates; a stuck pipeline must not hang the client forever.
const stallTimeout = 30 * time.Second

type UploadHandler struct {
	pipeline *ingest.Pipeline
	jobs     ingest.JobStore
}

func NewUploadHandler(pipeline *ingest.Pipeline, jobs ingest.JobStore) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, jobs: jobs}
}

// HandleUpload accepts a multipart file, registers an upload job and
// kicks off ingestion in the background. The response carries only the
// upload id; the client follows progress on the stream endpoint.
func (h *UploadHandler) HandleUpload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return ErrBadRequest()
	}

	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return NewError(fiber.StatusBadRequest, "empty file")
	}

	mediaType := fileHeader.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileHeader.Filename)))
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}

	uploadID := uuid.New()
	h.jobs.Set(uploadID, types.UploadProgress{
		UploadID: uploadID,
		Stage:    types.StageStart,
		Message:  fmt.Sprintf("Received %s", fileHeader.Filename),
	})

	// Ingestion is detached from the request context: there is no
	// mid-ingestion cancellation, the job either completes or fails with
	// rollback.
	go h.pipeline.Ingest(context.Background(), uploadID, fileHeader.Filename, mediaType, data)

	return c.JSON(fiber.Map{"upload_id": uploadID})
}

// HandleStatus is the plain polling endpoint.
func (h *UploadHandler) HandleStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	progress, ok := h.jobs.Get(id)
	if !ok {
		return ErrNotFound(id, "upload")
	}
	return c.JSON(progress)
}

// HandleProgress streams progress events until the job reaches its
// terminal stage, the job disappears, or no update arrives within the
// stall window.
func (h *UploadHandler) HandleProgress(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}
	if _, ok := h.jobs.Get(id); !ok {
		return ErrNotFound(id, "upload")
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		var lastSent time.Time
		lastEvent := time.Now()

		for {
			progress, ok := h.jobs.Get(id)
			if !ok {
				writeEvent(w, types.UploadProgress{
					UploadID: id,
					Stage:    types.StageError,
					Error:    "upload job no longer tracked",
				})
				return
			}

			if progress.UpdatedAt.After(lastSent) {
				if !writeEvent(w, progress) {
					return
				}
				lastSent = progress.UpdatedAt
				lastEvent = time.Now()
			}

			if progress.Stage.Terminal() {
				return
			}
			if time.Since(lastEvent) > stallTimeout {
				writeEvent(w, types.UploadProgress{
					UploadID: id,
					Stage:    types.StageError,
					Error:    "upload stalled: no progress received",
				})
				return
			}
			time.Sleep(300 * time.Millisecond)
		}
	}))
	return nil
}

func writeEvent(w *bufio.Writer, progress types.UploadProgress) bool {
	payload, err := json.Marshal(progress)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return false
	}
	return w.Flush() == nil
}
