package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	if err := ctx.Err(); err != nil {
		return openai.ChatCompletion{}, err
	}
	return m.resp, m.err
}

func completionWith(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestGenerateJSON_Success(t *testing.T) {
	mock := &mockChatService{resp: completionWith(`{"urgency": "routine"}`)}
	client := &Client{chat: mock, model: DefaultModel, temperature: DefaultTemperature}
	out, err := client.GenerateJSON(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != `{"urgency": "routine"}` {
		t.Errorf("unexpected reply %q", out)
	}
	if len(mock.params) != 1 || len(mock.params[0].Messages) != 2 {
		t.Fatalf("expected one call with two messages, got %+v", mock.params)
	}
}

func TestGenerateJSON_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}}
	_, err := client.GenerateJSON(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateJSON_NoChoices(t *testing.T) {
	mockResp := openai.ChatCompletion{Choices: []openai.ChatCompletionChoice{}}
	client := &Client{chat: &mockChatService{resp: mockResp}}
	_, err := client.GenerateJSON(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestGenerateJSON_StripsFence(t *testing.T) {
	mock := &mockChatService{resp: completionWith("```json\n{\"a\": 1}\n```")}
	client := &Client{chat: mock}
	out, err := client.GenerateJSON(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"a": 1}` {
		t.Errorf("expected fence stripped, got %q", out)
	}
	if mock.params[0].ResponseFormat.OfJSONObject == nil {
		t.Error("expected JSON object response format")
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o-mini"), WithTemperature(0.1), WithMaxTokens(200))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.Model() != "gpt-4o-mini" || cli.temperature != 0.1 || cli.maxTokens != 200 {
		t.Errorf("options not applied: %+v", cli)
	}
}
