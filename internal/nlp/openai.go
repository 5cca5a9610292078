// Package nlp wraps the OpenAI calls made after a session ends: the
// best-effort summary and the transcript embedding.
package nlp

import (
	"context"
	"fmt"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

// maxSummaryInput bounds the transcript text sent for summarization; longer
// transcripts are truncated from the front to keep the most recent content.
const maxSummaryInput = 48000

const summaryPrompt = "You are a meeting assistant. Summarize the following meeting transcript " +
	"into concise bullet points covering decisions, action items and key discussion topics."

// Client is a per-task OpenAI client built from the task message's API key.
type Client struct {
	api            *openai.Client
	summaryModel   string
	embeddingModel string
}

// NewClient creates a task-scoped client.
func NewClient(apiKey, summaryModel, embeddingModel string) *Client {
	return &Client{
		api:            openai.NewClient(apiKey),
		summaryModel:   summaryModel,
		embeddingModel: embeddingModel,
	}
}

// Summarize produces a short summary of a transcript.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	transcript = truncateTranscript(transcript)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.summaryModel,
		Temperature: 0.3,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize transcript: empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

// truncateTranscript keeps the most recent maxSummaryInput bytes of a long
// transcript, advancing the cut to the next rune boundary so the result is
// valid UTF-8.
func truncateTranscript(transcript string) string {
	if len(transcript) <= maxSummaryInput {
		return transcript
	}
	cut := transcript[len(transcript)-maxSummaryInput:]
	for len(cut) > 0 && !utf8.RuneStart(cut[0]) {
		cut = cut[1:]
	}
	return cut
}

// EmbedText derives an embedding vector for semantic retrieval.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed text: empty response")
	}
	return resp.Data[0].Embedding, nil
}
