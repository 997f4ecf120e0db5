// Package responder drafts outbound conversation replies with Gemini,
// keeping the bot script's prompt as the authoritative content. The
// model only rewrites tone; when it is unavailable or strays, the
// template text is sent as-is.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"leadflow_backend/internal/leads/bots"
	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/logger"
)

const defaultModel = "gemini-2.0-flash"

const systemInstruction = `You are an SMS assistant for a real estate team.
Rewrite the given message so it reads naturally in an ongoing text conversation.
Keep the same question or statement, do not add new questions, offers, or facts.
Stay under 300 characters. Reply with the rewritten message only.`

// Client drafts replies through the Gemini API.
type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	log     *logger.Logger
}

// New creates the drafting client. Returns an error when the API key is
// rejected at client construction; callers treat a nil client as
// template-only mode.
func New(ctx context.Context, apiKey, model string, log *logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{
		client:  client,
		model:   model,
		timeout: 10 * time.Second,
		log:     log,
	}, nil
}

// Draft rewrites the prompt template for the session's context. Terminal
// intents keep their exact wording; only greetings, questions, and
// recovery nudges are rephrased.
func (c *Client) Draft(ctx context.Context, prompt bots.Prompt, session *domain.ConversationSession) (string, error) {
	switch prompt.Intent {
	case "greeting", "question", "stall_recovery":
	default:
		return prompt.Text, nil
	}
	if prompt.Text == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		genai.Text(draftInput(prompt, session)),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
			Temperature:       genai.Ptr[float32](0.7),
			MaxOutputTokens:   120,
		})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" || len(text) > 320 {
		// An empty or runaway draft falls back to the template.
		return "", fmt.Errorf("draft outside bounds (%d chars)", len(text))
	}
	return text, nil
}

func draftInput(prompt bots.Prompt, session *domain.ConversationSession) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Message to rewrite: %s\n", prompt.Text)
	fmt.Fprintf(&b, "Message intent: %s\n", prompt.Intent)
	if session != nil {
		fmt.Fprintf(&b, "Conversation script: %s\n", session.BotType)
		if n := len(session.Answers); n > 0 {
			last := session.Answers[n-1]
			fmt.Fprintf(&b, "The lead just said: %s\n", last.Body)
		}
	}
	return b.String()
}
