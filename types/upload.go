package types

import (
	"time"

	"github.com/google/uuid"
)

// UploadStage is the ingestion state machine. Stages only move forward;
// any non-terminal stage may jump to StageError. Exactly one of
// StageComplete or StageError is ever reached for a given upload.
type UploadStage string

const (
	StageStart     UploadStage = "start"
	StageReading   UploadStage = "reading"
	StageUploading UploadStage = "uploading"
	StageOCR       UploadStage = "ocr"
	StageChunking  UploadStage = "chunking"
	StageDatabase  UploadStage = "database"
	StageEmbedding UploadStage = "embedding"
	StageComplete  UploadStage = "complete"
	StageError     UploadStage = "error"
)

var stageOrder = map[UploadStage]int{
	StageStart:     0,
	StageReading:   1,
	StageOCR:       2,
	StageChunking:  3,
	StageUploading: 4,
	StageDatabase:  5,
	StageEmbedding: 6,
	StageComplete:  7,
	StageError:     7,
}

func (s UploadStage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// ValidTransition reports whether an upload may move from one stage to
// another. Staying in the same non-terminal stage is allowed (progress
// updates within a stage); terminal stages accept nothing.
func ValidTransition(from, to UploadStage) bool {
	fo, ok := stageOrder[from]
	if !ok {
		return false
	}
	to2, ok := stageOrder[to]
	if !ok {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StageError {
		return true
	}
	if from == to {
		return true
	}
	return to2 > fo
}

// UploadProgress is the transient per-upload job record. It is not
// persisted and is lost on restart, which is acceptable: it is purely
// informational.
type UploadProgress struct {
	UploadID        uuid.UUID     `json:"upload_id"`
	Stage           UploadStage   `json:"stage"`
	Progress        int           `json:"progress"`
	CurrentPage     int           `json:"current_page,omitempty"`
	TotalPages      int           `json:"total_pages,omitempty"`
	PageProgress    int           `json:"page_progress,omitempty"`
	ChunksProcessed int           `json:"chunks_processed,omitempty"`
	TotalChunks     int           `json:"total_chunks,omitempty"`
	Message         string        `json:"message,omitempty"`
	Result          *UploadResult `json:"result,omitempty"`
	Error           string        `json:"error,omitempty"`
	UpdatedAt       time.Time     `json:"-"`
}

type UploadResult struct {
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Chunks       int       `json:"chunks"`
	Failed       int       `json:"failed"`
}
