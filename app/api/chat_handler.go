package api

import (
	"log"
	"time"

	"medrag/app/agent"
	"medrag/model"
	"medrag/retrieve"
	"medrag/store"
	"medrag/types"

	"github.com/gofiber/fiber/v2"
)

const noInformationAnswer = "I don't have information in your documents to answer that."

type ChatHandler struct {
	db        store.DBStorer
	embedder  model.EmbedderInterface
	ranker    *retrieve.Ranker
	assembler *retrieve.Assembler
	agent     *agent.Agent
}

func NewChatHandler(db store.DBStorer, embedder model.EmbedderInterface, ranker *retrieve.Ranker, assembler *retrieve.Assembler, ag *agent.Agent) *ChatHandler {
	return &ChatHandler{
		db:        db,
		embedder:  embedder,
		ranker:    ranker,
		assembler: assembler,
		agent:     ag,
	}
}

// HandleChat runs the read path: embed the question, score the corpus,
// assemble a context and ask the completion service. Stateless and
// safely concurrent: nothing here mutates the corpus.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}
	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	ctx := c.Context()

	docs, err := h.db.ListDocuments(ctx)
	if err != nil {
		return err
	}
	knownFiles := make([]string, len(docs))
	for i, d := range docs {
		knownFiles[i] = d.Name
	}

	corpus, err := h.db.AllChunks(ctx)
	if err != nil {
		return err
	}

	// An empty corpus is an expected steady state, not a failure.
	if len(corpus) == 0 {
		return c.JSON(types.ChatResponse{
			Answer:    noInformationAnswer,
			Timestamp: time.Now().UTC(),
		})
	}

	queryVec, err := h.embedder.Embed(params.Message)
	if err != nil {
		return err
	}

	cls := retrieve.Classify(params.Message, knownFiles)
	selected, err := h.ranker.Rank(queryVec, params.Message, cls, corpus)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		log.Printf("[CHAT] nothing relevant for query kind=%s", cls.Kind)
		return c.JSON(types.ChatResponse{
			Answer:    noInformationAnswer,
			Timestamp: time.Now().UTC(),
		})
	}

	assembled := h.assembler.Build(selected, cls)

	answer, err := h.agent.Answer(ctx, assembled.Text, assembled.AvailableDates, knownFiles, params.History, params.Message)
	if err != nil {
		return err
	}

	warnings := agent.DetectHallucinatedDates(answer, assembled.AvailableDates)

	sources := make([]types.ChunkSource, len(assembled.Chunks))
	for i, s := range assembled.Chunks {
		src := types.ChunkSource{
			DocumentID:   s.Chunk.DocumentID.String(),
			DocumentName: s.Chunk.DocumentName,
			Index:        s.Chunk.Index,
			Section:      s.Chunk.Section,
		}
		if len(s.Chunk.Dates) > 0 {
			src.Date = s.Chunk.Dates[0]
		}
		sources[i] = src
	}

	return c.JSON(types.ChatResponse{
		Answer:    answer,
		Sources:   sources,
		Warnings:  warnings,
		Timestamp: time.Now().UTC(),
	})
}
