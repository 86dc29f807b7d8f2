package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateChatCompletion(t *testing.T) {
	var gotAuth string
	var gotReq ChatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		resp := ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4-turbo",
			Choices: []Choice{
				{Message: ResponseMessage{Role: "assistant", Content: `{"ok":true}`}, FinishReason: "stop"},
			},
			Usage: Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))

	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model: "gpt-4-turbo",
		Messages: []Message{
			TextMessage("system", "You extract invoices."),
			TextMessage("user", "INVOICE #123"),
		},
		ResponseFormat: JSONObjectFormat(),
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion() error = %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotReq.ResponseFormat == nil || gotReq.ResponseFormat.Type != "json_object" {
		t.Error("response_format not forwarded")
	}
	if resp.Content() != `{"ok":true}` {
		t.Errorf("Content() = %q", resp.Content())
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestCreateChatCompletion_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"invalid_api_key","message":"Incorrect API key"}}`))
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))

	_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4-turbo",
		Messages: []Message{TextMessage("user", "hi")},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Code != "invalid_api_key" || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("unexpected APIError: %+v", apiErr)
	}
}

func TestCreateChatCompletion_Unreachable(t *testing.T) {
	client := NewClient("key", WithBaseURL("http://127.0.0.1:1"))

	_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4-turbo",
		Messages: []Message{TextMessage("user", "hi")},
	})
	if err == nil {
		t.Fatal("expected error for unreachable provider")
	}
}

func TestVisionMessage_Shape(t *testing.T) {
	msg := VisionMessage("analyze this", "https://files/scan.png")

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Role    string `json:"role"`
		Content []struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL *struct {
				URL string `json:"url"`
			} `json:"image_url"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Role != "user" || len(decoded.Content) != 2 {
		t.Fatalf("unexpected shape: %s", data)
	}
	if decoded.Content[0].Type != "text" || decoded.Content[1].Type != "image_url" {
		t.Errorf("part types = %s, %s", decoded.Content[0].Type, decoded.Content[1].Type)
	}
	if decoded.Content[1].ImageURL == nil || decoded.Content[1].ImageURL.URL != "https://files/scan.png" {
		t.Error("image_url not carried")
	}
}
