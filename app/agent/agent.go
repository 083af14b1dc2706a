package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medrag/types"

	"github.com/pkoukk/tiktoken-go"
)

// Options pins the sampling parameters. Temperature 0 and a fixed seed
// keep repeated identical questions producing identical answers where
// the backing model honors them.
type Options struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
	TopP        float64 `json:"top_p"`
}

type GenerateRequest struct {
	Model   string  `json:"model"`
	System  string  `json:"system"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type Agent struct {
	url    string
	model  string
	client *http.Client
}

func New(url, model string) *Agent {
	return &Agent{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: 2 * time.Minute},
	}
}

const systemPrompt = `You are a careful assistant answering questions about the user's uploaded medical reports.
Hard constraints:
- Only reference documents from the known file list given in the prompt.
- Only cite dates that appear in the "Available dates" list. Never invent a date or year.
- When answering about lab or test values, present a table with one row per distinct date, deduplicated.
- If the context does not contain the answer, say you don't have that information. Do not guess.
- Answer the same question the same way every time.`

// Answer builds the deterministic completion request: system
// constraints, assembled context, known files, available dates, prior
// turns and the current question.
func (a *Agent) Answer(ctx context.Context, contextText string, availableDates, knownFiles []string, history []types.ChatTurn, question string) (string, error) {
	start := time.Now()
	defer func() {
		fmt.Printf("LLM answer took %v\n", time.Since(start))
	}()

	prompt := buildPrompt(contextText, availableDates, knownFiles, history, question)

	reqBody, err := json.Marshal(GenerateRequest{
		Model:  a.model,
		System: systemPrompt,
		Prompt: prompt,
		Stream: false,
		Options: Options{
			Temperature: 0,
			Seed:        42,
			TopP:        0.9,
		},
	})
	if err != nil {
		return "", err
	}

	if count, err := CountTokens(prompt); err == nil {
		fmt.Printf("Prompt size in tokens: %d\n", count)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.url, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return genResp.Response, nil
	}

	// Some backends stream NDJSON even when stream=false; collect it.
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	if output.Len() == 0 {
		return "", fmt.Errorf("completion returned no text")
	}
	return output.String(), nil
}

func buildPrompt(contextText string, availableDates, knownFiles []string, history []types.ChatTurn, question string) string {
	var sb strings.Builder

	sb.WriteString("Known files:\n")
	if len(knownFiles) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, f := range knownFiles {
		sb.WriteString("- " + f + "\n")
	}

	sb.WriteString("\nAvailable dates: ")
	if len(availableDates) == 0 {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(strings.Join(availableDates, ", "))
	}
	sb.WriteString("\n\nContext:\n")
	if strings.TrimSpace(contextText) == "" {
		sb.WriteString("(empty)\n")
	} else {
		sb.WriteString(contextText)
	}

	if len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, turn := range history {
			role := "User"
			if turn.Role == "assistant" {
				role = "Assistant"
			}
			sb.WriteString(role + ": " + turn.Content + "\n")
		}
	}

	sb.WriteString("\nQuestion:\n" + question + "\nAnswer:")
	return sb.String()
}

func CountTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
