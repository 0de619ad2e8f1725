package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/writerrose28/ReDerma/pkg/config"
)

const systemPrompt = "You are a dermatology assistant. Given a photo of a skin " +
	"condition, the affected region and the user's questionnaire answers, return " +
	"a JSON object with the fields: \"summary\", \"possible_conditions\" (array of " +
	"{name, likelihood}), \"recommendations\" (array of strings) and \"see_doctor\" " +
	"(boolean). This is informational only, not a diagnosis."

const premiumPromptSuffix = " Provide an extended analysis: include a " +
	"\"detailed_observations\" array and per-condition \"reasoning\" fields."

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// OpenAIAnalyzer implements Analyzer against the chat completions API
type OpenAIAnalyzer struct {
	cfg    *config.AnalyzerConfig
	client *http.Client
}

// NewOpenAIAnalyzer creates an analyzer for the configured vision model
func NewOpenAIAnalyzer(cfg *config.AnalyzerConfig) *OpenAIAnalyzer {
	return &OpenAIAnalyzer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Analyze sends the image URL, questionnaire and region to the vision model
// and returns the structured result payload. A single attempt, no retry;
// the caller decides whether to try again.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	prompt := systemPrompt
	maxTokens := 500
	if req.Premium {
		prompt += premiumPromptSuffix
		maxTokens = 1500
	}

	userText := fmt.Sprintf("Affected region: %s\nQuestionnaire answers: %s", req.Region, string(req.Questionnaire))

	body := chatRequest{
		Model:       a.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: 0.2,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: prompt}}},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: userText},
				{Type: "image_url", ImageURL: &imageRef{URL: req.ImageURL}},
			}},
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var chatResp chatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return nil, fmt.Errorf("could not decode analyzer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if chatResp.Error != nil {
			return nil, fmt.Errorf("analyzer returned %d: %s", resp.StatusCode, chatResp.Error.Message)
		}
		return nil, fmt.Errorf("analyzer returned %d", resp.StatusCode)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("analyzer returned no choices")
	}

	content := chatResp.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		// The model occasionally answers in prose despite the response
		// format hint; keep the text rather than failing the request.
		wrapped, err := json.Marshal(map[string]string{"summary": content})
		if err != nil {
			return nil, err
		}
		return wrapped, nil
	}
	return json.RawMessage(content), nil
}
