package ingest

import "errors"

var (
	// ErrUnsupportedType means the declared media type has no extractor.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrEmptyDocument means extraction ran but recognized no text at all.
	ErrEmptyDocument = errors.New("no text recognized in document")
	// ErrExtraction wraps failures of the extraction toolchain itself.
	ErrExtraction = errors.New("text extraction failed")
)
