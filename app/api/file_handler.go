package api

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"medrag/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const signedURLTTL = 15 * time.Minute

type FileHandler struct {
	db      store.DBStorer
	objects store.ObjectStore
}

func NewFileHandler(db store.DBStorer, objects store.ObjectStore) *FileHandler {
	return &FileHandler{db: db, objects: objects}
}

func (h *FileHandler) HandleList(c *fiber.Ctx) error {
	docs, err := h.db.ListDocuments(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(docs)
}

// HandleDelete removes a document with its chunks and stored binary.
// The binary goes first, then chunks and the document row together in
// one transaction: a failure can never leave chunks pointing at a
// deleted document.
func (h *FileHandler) HandleDelete(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	ctx := c.Context()
	doc, err := h.db.GetDocumentByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound(id, "document")
		}
		return err
	}

	if err := h.objects.Delete(ctx, doc.StorageRef); err != nil {
		return fmt.Errorf("delete stored binary: %w", err)
	}
	if err := h.db.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	log.Printf("[FILES] deleted document %s (%s)", id, doc.Name)
	return c.JSON(fiber.Map{"result": "deleted"})
}

func (h *FileHandler) HandleSignedURL(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return ErrInvalidID()
	}

	doc, err := h.db.GetDocumentByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound(id, "document")
		}
		return err
	}

	url, err := h.objects.SignedURL(doc.StorageRef, signedURLTTL)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": url, "expires_in": int(signedURLTTL.Seconds())})
}

// HandleBlob serves a signed download produced by HandleSignedURL.
func (h *FileHandler) HandleBlob(c *fiber.Ctx) error {
	disk, ok := h.objects.(*store.DiskStore)
	if !ok {
		return NewError(fiber.StatusNotImplemented, "signed downloads unavailable")
	}

	key := c.Params("key")
	if !disk.VerifySignature(key, c.Query("exp"), c.Query("sig")) {
		return NewError(fiber.StatusForbidden, "invalid or expired signature")
	}

	data, err := h.objects.Get(c.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrObjectNotFound) {
			return ErrNotFound(key, "object")
		}
		return err
	}
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", key))
	return c.Send(data)
}
