package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// The OCR toolchain runs as HTTP sidecars (a pdf rasterizer and a
// tesseract server), consumed the same way the converter service is.

// Rasterizer renders PDF pages to PNG images at the given DPI.
type Rasterizer interface {
	PDFToImages(ctx context.Context, pdf []byte, dpi int) ([][]byte, error)
}

// OCREngine recognizes text in a page image. onTick, when non-nil,
// receives recognition progress in percent for the page.
type OCREngine interface {
	Recognize(ctx context.Context, image []byte, lang string, pageSegMode int, onTick func(pct int)) (string, error)
}

type HTTPRasterizer struct {
	url    string
	client *http.Client
}

func NewHTTPRasterizer(url string) *HTTPRasterizer {
	return &HTTPRasterizer{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type rasterizeResponse struct {
	Pages []string `json:"pages"` // base64 PNG per page
}

func (r *HTTPRasterizer) PDFToImages(ctx context.Context, pdf []byte, dpi int) ([][]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("dpi", fmt.Sprintf("%d", dpi)); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("file", "document.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(pdf); err != nil {
		return nil, err
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", r.url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rasterizer request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rasterizer error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed rasterizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rasterizer response: %w", err)
	}

	pages := make([][]byte, len(parsed.Pages))
	for i, p := range parsed.Pages {
		img, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("decode page %d: %w", i+1, err)
		}
		pages[i] = img
	}
	return pages, nil
}

type TesseractClient struct {
	url    string
	client *http.Client
}

func NewTesseractClient(url string) *TesseractClient {
	return &TesseractClient{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type recognizeRequest struct {
	Image       string `json:"image"` // base64 PNG
	Lang        string `json:"lang"`
	PageSegMode int    `json:"psm"`
}

// recognizeEvent is one NDJSON line of the streamed response: progress
// ticks followed by a final line carrying the text.
type recognizeEvent struct {
	Progress int    `json:"progress"`
	Text     string `json:"text"`
	Done     bool   `json:"done"`
}

func (t *TesseractClient) Recognize(ctx context.Context, image []byte, lang string, pageSegMode int, onTick func(pct int)) (string, error) {
	body, err := json.Marshal(recognizeRequest{
		Image:       base64.StdEncoding.EncodeToString(image),
		Lang:        lang,
		PageSegMode: pageSegMode,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ocr error: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var text string
	decoder := json.NewDecoder(resp.Body)
	for {
		var ev recognizeEvent
		if err := decoder.Decode(&ev); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode ocr response: %w", err)
		}
		if onTick != nil && ev.Progress > 0 {
			onTick(ev.Progress)
		}
		if ev.Text != "" {
			text += ev.Text
		}
		if ev.Done {
			break
		}
	}
	return text, nil
}
