package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Answerer produces a reply to a free-form question.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// cannedAnswers back the ask command when no model is configured.
var cannedAnswers = []string{
	"Hmm... I think so.",
	"Not sure, try again later.",
	"Yes.",
	"No.",
	"I don't have enough data to answer that now.",
}

const askSystemPrompt = "You are a helpful chat assistant. Answer briefly."

// completionClient is the slice of the OpenAI client the Asker uses.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Asker answers questions through the OpenAI Chat Completions API when
// an API key is configured, and with canned replies otherwise.
type Asker struct {
	client completionClient
	model  string
}

// NewAsker creates an Asker. An empty API key selects canned replies.
func NewAsker(apiKey, model string) *Asker {
	a := &Asker{model: model}
	if a.model == "" {
		a.model = openai.GPT4oMini
	}
	if apiKey != "" {
		a.client = openai.NewClient(apiKey)
	}
	return a
}

// Answer implements Answerer.
func (a *Asker) Answer(ctx context.Context, question string) (string, error) {
	if a.client == nil {
		return cannedAnswers[rand.Intn(len(cannedAnswers))], nil
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: askSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
		MaxTokens: 512,
	})
	if err != nil {
		return "", fmt.Errorf("asking model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
