package types

import (
	"time"

	"github.com/google/uuid"
)

// Document is an uploaded report. Chunks belong to exactly one document
// and are deleted with it.
type Document struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	StorageRef string    `json:"storage_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// Chunk is the unit of retrieval. Immutable after ingestion: re-uploading
// a file creates new chunks under a new document id.
type Chunk struct {
	ID           uuid.UUID `json:"id"`
	DocumentID   uuid.UUID `json:"document_id"`
	DocumentName string    `json:"document_name"`
	Index        int       `json:"chunk_index"`
	Section      string    `json:"section"`
	// Dates holds canonical "DD Mon YYYY" strings and bare years, sorted
	// and deduplicated. When FilenameDate is true, Dates[0] came from the
	// source filename and is authoritative for the whole document.
	Dates        []string  `json:"dates"`
	FilenameDate bool      `json:"filename_date"`
	Text         string    `json:"text"`
	Embedding    []float32 `json:"-"`
}

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChunkSource struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Index        int    `json:"chunk_index"`
	Section      string `json:"section,omitempty"`
	Date         string `json:"date,omitempty"`
}

type ChatResponse struct {
	Answer    string        `json:"answer"`
	Sources   []ChunkSource `json:"sources"`
	Warnings  []string      `json:"warnings,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
