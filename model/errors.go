package model

import "errors"

// ErrEmbedding marks a failed embedding call: empty input or a service
// failure. Recoverable at batch granularity during ingestion.
var ErrEmbedding = errors.New("embedding failed")
