package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"medrag/app/agent"
	"medrag/app/api"
	"medrag/ingest"
	"medrag/model"
	"medrag/retrieve"
	"medrag/store"

	"github.com/gofiber/fiber/v2"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
	BodyLimit:    50 * 1024 * 1024,
}

type Server struct {
	listenAddr string
	logger     *slog.Logger
	app        *fiber.App
	db         *store.PostgresStore
	jobs       *ingest.MemoryJobStore
}

func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		logger:     slog.Default(),
	}
}

func (s *Server) Stop() {
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("error shutting down http server", "error", err.Error())
		}
	}
	if s.jobs != nil {
		s.jobs.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()

	port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
	db, err := store.NewPostgresStore(ctx, connStr)
	if err != nil {
		log.Fatal("error to connect to Postgres database ", err)
		return
	}
	s.db = db

	if err := db.Init(ctx); err != nil {
		log.Fatal("error to create tables ", err)
		return
	}

	objects, err := store.NewDiskStore(
		envOr("BLOB_DIR", "data/blobs"),
		envOr("BLOB_BASE_URL", "/api/v1/blob"),
		[]byte(envOr("BLOB_SECRET", "dev-secret")),
	)
	if err != nil {
		log.Fatal("error to init object store ", err)
		return
	}

	embedder := model.NewOllamaEmbedder(os.Getenv("OLLAMA_EMBEDDING_URL"), os.Getenv("OLLAMA_EMBEDDING_MODEL"))
	extractor := ingest.NewExtractor(
		ingest.DefaultExtractConfig(),
		ingest.NewHTTPRasterizer(os.Getenv("RASTERIZER_URL")),
		ingest.NewTesseractClient(os.Getenv("OCR_URL")),
	)

	s.jobs = ingest.NewMemoryJobStore(60 * time.Second)

	pipeline, err := ingest.NewPipeline(db, objects, embedder, extractor, s.jobs, ingest.DefaultPipelineConfig())
	if err != nil {
		log.Fatal("error to build ingestion pipeline ", err)
		return
	}

	ranker := retrieve.NewRanker(retrieve.DefaultRankerConfig())
	assembler := retrieve.NewAssembler(3000)
	answerer := agent.New(os.Getenv("LLM_URL"), os.Getenv("LLM_MODEL"))

	var (
		app           = fiber.New(config)
		checkHandler  = api.NewCheckHandler()
		uploadHandler = api.NewUploadHandler(pipeline, s.jobs)
		chatHandler   = api.NewChatHandler(db, embedder, ranker, assembler, answerer)
		fileHandler   = api.NewFileHandler(db, objects)
		check         = app.Group("/check")
		apiv1         = app.Group("/api/v1")
	)
	s.app = app

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/upload", uploadHandler.HandleUpload)
	apiv1.Get("/upload/:id/status", uploadHandler.HandleStatus)
	apiv1.Get("/upload/:id/progress", uploadHandler.HandleProgress)

	apiv1.Post("/chat", chatHandler.HandleChat)

	apiv1.Get("/files", fileHandler.HandleList)
	apiv1.Delete("/files/:id", fileHandler.HandleDelete)
	apiv1.Get("/files/:id/url", fileHandler.HandleSignedURL)
	apiv1.Get("/blob/:key", fileHandler.HandleBlob)

	if err := app.Listen(s.listenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
