package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"medrag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		assert.Zero(t, req.Options.Temperature)
		assert.Equal(t, 42, req.Options.Seed)
		assert.Contains(t, req.Prompt, "What was my HDL?")
		assert.Contains(t, req.System, "Never invent a date")

		json.NewEncoder(w).Encode(GenerateResponse{Response: "Your HDL was 1.4 mmol/L on 26 Feb 2024.", Done: true})
	}))
	defer srv.Close()

	a := New(srv.URL, "llama3")
	answer, err := a.Answer(context.Background(), "context here", []string{"26 Feb 2024"}, []string{"report.pdf"}, nil, "What was my HDL?")
	require.NoError(t, err)
	assert.Equal(t, "Your HDL was 1.4 mmol/L on 26 Feb 2024.", answer)
}

func TestAnswerCollectsStreamedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(GenerateResponse{Response: "Your HDL "})
		enc.Encode(GenerateResponse{Response: "was 1.4."})
		enc.Encode(GenerateResponse{Done: true})
	}))
	defer srv.Close()

	a := New(srv.URL, "llama3")
	answer, err := a.Answer(context.Background(), "ctx", nil, nil, nil, "q")
	require.NoError(t, err)
	assert.Equal(t, "Your HDL was 1.4.", answer)
}

func TestAnswerServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := New(srv.URL, "llama3")
	_, err := a.Answer(context.Background(), "ctx", nil, nil, nil, "q")
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	history := []types.ChatTurn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi, ask away"},
	}
	prompt := buildPrompt("[Document: report.pdf]\nHDL 1.4\n",
		[]string{"26 Feb 2024", "2024"},
		[]string{"report.pdf"},
		history,
		"what was my hdl?")

	assert.Contains(t, prompt, "Known files:\n- report.pdf")
	assert.Contains(t, prompt, "Available dates: 26 Feb 2024, 2024")
	assert.Contains(t, prompt, "[Document: report.pdf]")
	assert.Contains(t, prompt, "User: hello")
	assert.Contains(t, prompt, "Assistant: hi, ask away")
	assert.Contains(t, prompt, "Question:\nwhat was my hdl?")
	assert.True(t, len(prompt) > 0 && prompt[len(prompt)-len("Answer:"):] == "Answer:")
}

func TestBuildPromptEmptyInputs(t *testing.T) {
	prompt := buildPrompt("", nil, nil, nil, "anything there?")

	assert.Contains(t, prompt, "(none)")
	assert.Contains(t, prompt, "(empty)")
	assert.NotContains(t, prompt, "Conversation so far")
}
