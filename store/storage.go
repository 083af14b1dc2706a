package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"strings"

	"medrag/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type DBStorer interface {
	SaveDocument(context.Context, types.Document) error
	GetDocumentByID(context.Context, uuid.UUID) (*types.Document, error)
	ListDocuments(context.Context) ([]types.Document, error)
	SaveChunks(context.Context, []types.Chunk) error
	ChunksByDocument(context.Context, uuid.UUID) ([]types.Chunk, error)
	AllChunks(context.Context) ([]types.Chunk, error)
	DeleteChunksByDocID(context.Context, uuid.UUID) error
	DeleteDocument(context.Context, uuid.UUID) error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
	}, nil
}

func (p *PostgresStore) SaveDocument(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO documents (id, name, storage_ref, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := p.pool.Exec(ctx, query, doc.ID, doc.Name, doc.StorageRef, doc.CreatedAt)
	return err
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name, storage_ref, created_at FROM documents WHERE id = $1", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, sql.ErrNoRows
	}

	doc := &types.Document{}
	if err := rows.Scan(&doc.ID, &doc.Name, &doc.StorageRef, &doc.CreatedAt); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name, storage_ref, created_at FROM documents ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		var doc types.Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.StorageRef, &doc.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) SaveChunks(ctx context.Context, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	query := `
    INSERT INTO chunks (id, document_id, document_name, chunk_index, section, dates, filename_date, content, embedding)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(query,
			c.ID, c.DocumentID, c.DocumentName, c.Index, c.Section,
			c.Dates, c.FilenameDate, c.Text, pgvector.NewVector(c.Embedding),
		)
	}
	return p.pool.SendBatch(ctx, batch).Close()
}

const chunkColumns = "id, document_id, document_name, chunk_index, section, dates, filename_date, content, embedding"

func (p *PostgresStore) ChunksByDocument(ctx context.Context, docID uuid.UUID) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE document_id = $1 ORDER BY chunk_index", docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

// AllChunks returns the whole corpus with embeddings, ordered by document
// id then chunk index so repeated identical queries see an identical scan
// order.
func (p *PostgresStore) AllChunks(ctx context.Context) ([]types.Chunk, error) {
	rows, err := p.pool.Query(ctx,
		"SELECT "+chunkColumns+" FROM chunks ORDER BY document_id, chunk_index")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows pgx.Rows) ([]types.Chunk, error) {
	var chunks []types.Chunk
	for rows.Next() {
		var chunk types.Chunk
		var raw any
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.DocumentName,
			&chunk.Index,
			&chunk.Section,
			&chunk.Dates,
			&chunk.FilenameDate,
			&chunk.Text,
			&raw,
		)
		if err != nil {
			return nil, err
		}
		chunk.Embedding, err = DecodeEmbedding(raw)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// DecodeEmbedding accepts the shapes an embedding column can come back
// as: a pgvector value, a raw float slice, or a string-encoded array
// ("[0.1,0.2]") left behind by older writers.
func DecodeEmbedding(src any) ([]float32, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case pgvector.Vector:
		return v.Slice(), nil
	case []float32:
		return v, nil
	case []float64:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	case string:
		return parseVectorString(v)
	case []byte:
		return parseVectorString(string(v))
	default:
		return nil, fmt.Errorf("unsupported embedding encoding %T", src)
	}
}

func parseVectorString(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("bad embedding element %q: %w", part, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func (p *PostgresStore) DeleteChunksByDocID(ctx context.Context, docID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", docID)
	return err
}

// DeleteDocument removes a document and its chunks in one transaction so
// a partial failure can never leave chunks referencing a deleted document.
func (p *PostgresStore) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM chunks WHERE document_id = $1", docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM documents WHERE id = $1", docID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) createTables(ctx context.Context) error {

	query := `
	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		storage_ref TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE
	);

    CREATE EXTENSION IF NOT EXISTS vector;

    CREATE TABLE IF NOT EXISTS chunks (
        id UUID PRIMARY KEY,
        document_id UUID NOT NULL REFERENCES documents(id),
        document_name TEXT NOT NULL,
        chunk_index INT NOT NULL,
        section TEXT,
        dates TEXT[] NOT NULL DEFAULT '{}',
        filename_date BOOLEAN NOT NULL DEFAULT FALSE,
        content TEXT NOT NULL,
        embedding vector(768),
        UNIQUE (document_id, chunk_index)
    );

	CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_section ON chunks(section);
    `
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createTables(ctx)
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
