package ingest

import (
	"testing"
	"time"

	"medrag/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJobStore(t *testing.T) *MemoryJobStore {
	t.Helper()
	s := NewMemoryJobStore(time.Minute)
	t.Cleanup(s.Close)
	return s
}

func TestJobStoreSetAndGet(t *testing.T) {
	s := newTestJobStore(t)
	id := uuid.New()

	ok := s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageStart})
	require.True(t, ok)

	got, found := s.Get(id)
	require.True(t, found)
	assert.Equal(t, types.StageStart, got.Stage)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestJobStoreForwardProgress(t *testing.T) {
	s := newTestJobStore(t)
	id := uuid.New()

	stages := []types.UploadStage{
		types.StageStart,
		types.StageReading,
		types.StageOCR,
		types.StageChunking,
		types.StageUploading,
		types.StageDatabase,
		types.StageEmbedding,
		types.StageComplete,
	}
	for _, stage := range stages {
		assert.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: stage}), "stage %s", stage)
	}
}

func TestJobStoreRejectsBackwardTransition(t *testing.T) {
	s := newTestJobStore(t)
	id := uuid.New()

	require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageChunking}))
	assert.False(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageReading}))

	got, _ := s.Get(id)
	assert.Equal(t, types.StageChunking, got.Stage)
}

func TestJobStoreSameStageUpdates(t *testing.T) {
	s := newTestJobStore(t)
	id := uuid.New()

	require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageEmbedding, Progress: 75}))
	require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageEmbedding, Progress: 90}))

	got, _ := s.Get(id)
	assert.Equal(t, 90, got.Progress)
}

func TestJobStoreSingleTerminalEvent(t *testing.T) {
	s := newTestJobStore(t)
	id := uuid.New()

	require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageEmbedding}))
	require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageComplete}))

	// Nothing after a terminal stage, not even an error.
	assert.False(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageError}))
	assert.False(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageComplete}))

	got, _ := s.Get(id)
	assert.Equal(t, types.StageComplete, got.Stage)
}

func TestJobStoreErrorFromAnyStage(t *testing.T) {
	s := newTestJobStore(t)

	for _, stage := range []types.UploadStage{types.StageStart, types.StageOCR, types.StageEmbedding} {
		id := uuid.New()
		require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: stage}))
		assert.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageError}), "from %s", stage)
	}
}

func TestJobStoreDelete(t *testing.T) {
	s := newTestJobStore(t)
	id := uuid.New()

	require.True(t, s.Set(id, types.UploadProgress{UploadID: id, Stage: types.StageStart}))
	s.Delete(id)
	_, found := s.Get(id)
	assert.False(t, found)
}
