package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

type ExtractConfig struct {
	MinTextLen  int // below this, a PDF is treated as scanned and OCR'd
	DPI         int
	MaxOCRPages int
	OCRWorkers  int
	Lang        string
	PageSegMode int
}

func DefaultExtractConfig() ExtractConfig {
	return ExtractConfig{
		MinTextLen:  100,
		DPI:         300,
		MaxOCRPages: 50,
		OCRWorkers:  3,
		Lang:        "eng",
		PageSegMode: 6, // single uniform block, fits tabular lab reports
	}
}

// PageProgress is reported per page and per recognition tick during OCR.
type PageProgress struct {
	CurrentPage     int
	TotalPages      int
	PageProgress    int
	OverallProgress int
}

type ProgressFunc func(p PageProgress)

type Extractor struct {
	cfg        ExtractConfig
	rasterizer Rasterizer
	ocr        OCREngine
}

func NewExtractor(cfg ExtractConfig, rasterizer Rasterizer, ocr OCREngine) *Extractor {
	return &Extractor{cfg: cfg, rasterizer: rasterizer, ocr: ocr}
}

// Extract produces plain text from a raw document buffer. PDFs try the
// text layer first and fall back to rasterize+OCR when it yields less
// than MinTextLen characters.
func (e *Extractor) Extract(ctx context.Context, data []byte, mediaType string, onProgress ProgressFunc) (string, error) {
	switch {
	case mediaType == "application/pdf":
		return e.extractPDF(ctx, data, onProgress)
	case mediaType == "text/plain" || strings.HasPrefix(mediaType, "text/plain;"):
		text := strings.TrimSpace(string(data))
		if text == "" {
			return "", ErrEmptyDocument
		}
		return text, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte, onProgress ProgressFunc) (string, error) {
	text, err := textLayer(data)
	if err != nil {
		log.Printf("[EXTRACT] text layer unreadable, trying OCR: %v", err)
	}
	if len(strings.TrimSpace(text)) >= e.cfg.MinTextLen {
		return strings.TrimSpace(text), nil
	}

	log.Printf("[EXTRACT] text layer yielded %d chars, falling back to OCR", len(strings.TrimSpace(text)))
	return e.ocrPDF(ctx, data, onProgress)
}

// textLayer reads the embedded text layer page by page.
func textLayer(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrExtraction, err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func (e *Extractor) ocrPDF(ctx context.Context, data []byte, onProgress ProgressFunc) (string, error) {
	if e.rasterizer == nil || e.ocr == nil {
		return "", fmt.Errorf("%w: ocr toolchain not configured", ErrExtraction)
	}

	total, err := pdfapi.PageCount(bytes.NewReader(data), pdfapi.LoadConfiguration())
	if err != nil {
		return "", fmt.Errorf("%w: page count: %v", ErrExtraction, err)
	}
	if total > e.cfg.MaxOCRPages {
		log.Printf("[OCR] document has %d pages, recognizing the first %d", total, e.cfg.MaxOCRPages)
		total = e.cfg.MaxOCRPages
	}

	images, err := e.rasterizer.PDFToImages(ctx, data, e.cfg.DPI)
	if err != nil {
		return "", fmt.Errorf("%w: rasterize: %v", ErrExtraction, err)
	}
	if len(images) > total {
		images = images[:total]
	}
	if len(images) == 0 {
		return "", ErrEmptyDocument
	}

	texts, err := e.recognizePages(ctx, images, onProgress)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	recognized := 0
	for i, pageText := range texts {
		pageText = strings.TrimSpace(pageText)
		if pageText == "" {
			continue
		}
		recognized++
		sb.WriteString(pageText)
		sb.WriteString(fmt.Sprintf("\n\n--- Page %d ---\n\n", i+1))
	}
	if recognized == 0 {
		return "", ErrEmptyDocument
	}
	return strings.TrimSpace(sb.String()), nil
}

// recognizePages OCRs pages with bounded parallelism. Progress is
// reported monotonically by page index even when completion order
// differs: a page's completion is only announced once every earlier page
// has finished.
func (e *Extractor) recognizePages(ctx context.Context, images [][]byte, onProgress ProgressFunc) ([]string, error) {
	total := len(images)
	texts := make([]string, total)
	errs := make([]error, total)

	var mu sync.Mutex
	done := make([]bool, total)
	reported := 0

	report := func(page int) {
		if onProgress == nil {
			return
		}
		mu.Lock()
		done[page] = true
		for reported < total && done[reported] {
			reported++
			onProgress(PageProgress{
				CurrentPage:     reported,
				TotalPages:      total,
				PageProgress:    100,
				OverallProgress: reported * 100 / total,
			})
		}
		mu.Unlock()
	}

	workers := e.cfg.OCRWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := range images {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				errs[page] = ctx.Err()
				return
			}

			tick := func(pct int) {
				if onProgress == nil {
					return
				}
				mu.Lock()
				// Mid-page ticks only surface for the frontier page so
				// the stream never moves backwards.
				if page == reported {
					onProgress(PageProgress{
						CurrentPage:     page + 1,
						TotalPages:      total,
						PageProgress:    pct,
						OverallProgress: (page*100 + pct) / total,
					})
				}
				mu.Unlock()
			}

			text, err := e.ocr.Recognize(ctx, images[page], e.cfg.Lang, e.cfg.PageSegMode, tick)
			if err != nil {
				errs[page] = err
				log.Printf("[OCR] page %d/%d failed: %v", page+1, total, err)
			} else {
				texts[page] = text
				log.Printf("[OCR] done for page %d/%d", page+1, total)
			}
			report(page)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A single failed page is tolerated; a fully failed run is not.
	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == total {
		return nil, fmt.Errorf("%w: all %d pages failed: %v", ErrExtraction, total, errs[0])
	}
	return texts, nil
}
