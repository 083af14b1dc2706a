package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"medrag/model"
	"medrag/store"
	"medrag/types"

	"github.com/google/uuid"
)

type PipelineConfig struct {
	Chunker ChunkerConfig
	// Embedding batches: BatchSize chunks embedded with BatchWorkers in
	// parallel, BatchDelay between batches. Backpressure for the
	// embedding service, not a correctness requirement.
	BatchSize    int
	BatchWorkers int
	BatchDelay   time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Chunker:      DefaultChunkerConfig(),
		BatchSize:    10,
		BatchWorkers: 4,
		BatchDelay:   100 * time.Millisecond,
	}
}

// Pipeline runs the whole write path: extract, normalize, chunk, dedup,
// date-tag, embed, store. One call per upload; progress goes through the
// injected JobStore under the upload id.
type Pipeline struct {
	db        store.DBStorer
	objects   store.ObjectStore
	embedder  model.EmbedderInterface
	extractor *Extractor
	jobs      JobStore
	chunker   *Chunker
	cfg       PipelineConfig
}

func NewPipeline(db store.DBStorer, objects store.ObjectStore, embedder model.EmbedderInterface, extractor *Extractor, jobs JobStore, cfg PipelineConfig) (*Pipeline, error) {
	chunker, err := NewChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 || cfg.BatchWorkers <= 0 {
		return nil, fmt.Errorf("batch size and workers must be positive")
	}
	return &Pipeline{
		db:        db,
		objects:   objects,
		embedder:  embedder,
		extractor: extractor,
		jobs:      jobs,
		chunker:   chunker,
		cfg:       cfg,
	}, nil
}

// Ingest processes one uploaded file to completion. There is no
// mid-ingestion cancellation: the upload either reaches complete, or
// fails with every partial artifact rolled back. Designed to run in its
// own goroutine; all outcomes are reported through the job store.
func (p *Pipeline) Ingest(ctx context.Context, uploadID uuid.UUID, filename, mediaType string, data []byte) {
	docID := uuid.New()
	storageKey := docID.String() + strings.ToLower(filepath.Ext(filename))

	result, err := p.run(ctx, uploadID, docID, storageKey, filename, mediaType, data)
	if err != nil {
		log.Printf("[INGEST] upload %s (%s) failed: %v", uploadID, filename, err)
		p.rollback(docID, storageKey)
		p.jobs.Set(uploadID, types.UploadProgress{
			UploadID: uploadID,
			Stage:    types.StageError,
			Progress: 100,
			Message:  userFacingError(filename, err),
			Error:    userFacingError(filename, err),
		})
		return
	}

	p.jobs.Set(uploadID, types.UploadProgress{
		UploadID: uploadID,
		Stage:    types.StageComplete,
		Progress: 100,
		Message:  fmt.Sprintf("Processed %s: %d chunks (%d failed)", filename, result.Chunks, result.Failed),
		Result:   result,
	})
}

func (p *Pipeline) run(ctx context.Context, uploadID, docID uuid.UUID, storageKey, filename, mediaType string, data []byte) (*types.UploadResult, error) {
	set := func(stage types.UploadStage, progress int, msg string, mut func(*types.UploadProgress)) {
		up := types.UploadProgress{
			UploadID: uploadID,
			Stage:    stage,
			Progress: progress,
			Message:  msg,
		}
		if mut != nil {
			mut(&up)
		}
		p.jobs.Set(uploadID, up)
	}

	set(types.StageReading, 5, "Extracting text", nil)

	text, err := p.extractor.Extract(ctx, data, mediaType, func(pp PageProgress) {
		set(types.StageOCR, 10+pp.OverallProgress*40/100, fmt.Sprintf("OCR page %d/%d", pp.CurrentPage, pp.TotalPages), func(up *types.UploadProgress) {
			up.CurrentPage = pp.CurrentPage
			up.TotalPages = pp.TotalPages
			up.PageProgress = pp.PageProgress
		})
	})
	if err != nil {
		return nil, err
	}

	set(types.StageChunking, 55, "Chunking text", nil)

	normalized := Normalize(text)
	pieces := Deduplicate(p.chunker.Split(normalized), MinDedupLen)
	if len(pieces) == 0 {
		return nil, ErrEmptyDocument
	}

	fd := ExtractFilenameDates(filename)
	chunks := make([]types.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = types.Chunk{
			ID:           uuid.New(),
			DocumentID:   docID,
			DocumentName: filename,
			Index:        i,
			Section:      piece.Header,
			Dates:        MergeDates(ExtractDates(piece.Text), fd),
			FilenameDate: fd.PrimaryDate != "",
			Text:         piece.Text,
		}
	}

	set(types.StageUploading, 65, "Storing original file", nil)
	if err := p.objects.Put(ctx, storageKey, data); err != nil {
		return nil, fmt.Errorf("store binary: %w", err)
	}

	set(types.StageDatabase, 70, "Saving document record", nil)
	doc := types.Document{
		ID:         docID,
		Name:       filename,
		StorageRef: storageKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := p.db.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	saved, failed, err := p.embedAndStore(ctx, uploadID, chunks, set)
	if err != nil {
		return nil, err
	}
	if saved == 0 {
		return nil, fmt.Errorf("%w: all %d chunk embeddings failed", model.ErrEmbedding, len(chunks))
	}

	log.Printf("[INGEST] document %s: %d chunks saved, %d failed", filename, saved, failed)
	return &types.UploadResult{
		DocumentID:   docID,
		DocumentName: filename,
		Chunks:       saved,
		Failed:       failed,
	}, nil
}

// embedAndStore embeds chunks in bounded-parallel batches and inserts
// each batch as it completes. A chunk whose embedding fails is dropped
// and tallied; only a batch insert failure is fatal.
func (p *Pipeline) embedAndStore(ctx context.Context, uploadID uuid.UUID, chunks []types.Chunk, set func(types.UploadStage, int, string, func(*types.UploadProgress))) (saved, failed int, err error) {
	total := len(chunks)
	processed := 0

	for start := 0; start < total; start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		ok := make([]bool, len(batch))
		sem := make(chan struct{}, p.cfg.BatchWorkers)
		var wg sync.WaitGroup
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				embedding, embErr := p.embedder.Embed(batch[i].Text)
				if embErr != nil {
					log.Printf("[EMBED] chunk %d dropped: %v", batch[i].Index, embErr)
					return
				}
				batch[i].Embedding = embedding
				ok[i] = true
			}(i)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return saved, failed, ctx.Err()
		}

		var good []types.Chunk
		for i := range batch {
			if ok[i] {
				good = append(good, batch[i])
			} else {
				failed++
			}
		}
		if err := p.db.SaveChunks(ctx, good); err != nil {
			return saved, failed, fmt.Errorf("save chunks: %w", err)
		}
		saved += len(good)
		processed += len(batch)

		set(types.StageEmbedding, 70+processed*25/total, fmt.Sprintf("Embedded %d/%d chunks", processed, total), func(up *types.UploadProgress) {
			up.ChunksProcessed = processed
			up.TotalChunks = total
		})

		if end < total && p.cfg.BatchDelay > 0 {
			time.Sleep(p.cfg.BatchDelay)
		}
	}
	return saved, failed, nil
}

// rollback removes whatever artifacts an aborted ingestion left behind.
// Best effort with a fresh context: the original may already be
// cancelled.
func (p *Pipeline) rollback(docID uuid.UUID, storageKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.db.DeleteChunksByDocID(ctx, docID); err != nil {
		log.Printf("[ROLLBACK] delete chunks for %s: %v", docID, err)
	}
	if err := p.db.DeleteDocument(ctx, docID); err != nil {
		log.Printf("[ROLLBACK] delete document %s: %v", docID, err)
	}
	if err := p.objects.Delete(ctx, storageKey); err != nil {
		log.Printf("[ROLLBACK] delete object %s: %v", storageKey, err)
	}
}

func userFacingError(filename string, err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return fmt.Sprintf("%s: unsupported file type", filename)
	case errors.Is(err, ErrEmptyDocument):
		return fmt.Sprintf("%s: no readable text found", filename)
	case errors.Is(err, model.ErrEmbedding):
		return fmt.Sprintf("%s: embedding service unavailable", filename)
	default:
		return fmt.Sprintf("%s: processing failed", filename)
	}
}
