package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageComplete.Terminal())
	assert.True(t, StageError.Terminal())
	assert.False(t, StageStart.Terminal())
	assert.False(t, StageEmbedding.Terminal())
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to UploadStage
		want     bool
	}{
		{StageStart, StageReading, true},
		{StageReading, StageOCR, true},
		{StageReading, StageChunking, true}, // OCR may be skipped
		{StageChunking, StageUploading, true},
		{StageUploading, StageDatabase, true},
		{StageDatabase, StageEmbedding, true},
		{StageEmbedding, StageComplete, true},

		// Same-stage updates are progress ticks.
		{StageOCR, StageOCR, true},
		{StageEmbedding, StageEmbedding, true},

		// Any non-terminal stage may fail.
		{StageStart, StageError, true},
		{StageEmbedding, StageError, true},

		// Never backwards.
		{StageChunking, StageReading, false},
		{StageComplete, StageEmbedding, false},

		// Terminal stages accept nothing.
		{StageComplete, StageError, false},
		{StageError, StageError, false},
		{StageError, StageComplete, false},
		{StageComplete, StageComplete, false},

		// Unknown stages are rejected.
		{UploadStage("bogus"), StageReading, false},
		{StageReading, UploadStage("bogus"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
