package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// openAICompatible talks to any chat-completions endpoint shaped like
// OpenAI's (also used for "custom" base_url providers, per spec §6.2).
type openAICompatible struct {
	cfg    Config
	client *http.Client
}

func newOpenAICompatible(cfg Config, client *http.Client) *openAICompatible {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	return &openAICompatible{cfg: cfg, client: client}
}

func (a *openAICompatible) Name() string { return "openai:" + a.cfg.ModelName }

func (a *openAICompatible) Complete(ctx context.Context, req Request) (Result, error) {
	body := map[string]any{
		"model":       a.cfg.ModelName,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.Schema != nil {
		body["response_format"] = map[string]any{
			"type":        "json_schema",
			"json_schema": json.RawMessage(req.Schema),
		}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &CallError{Kind: ErrKindTimeout, Provider: a.Name(), Wrapped: err}
		}
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return Result{}, &CallError{Kind: ErrKindAuth, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}
	if res.StatusCode >= 500 {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}
	if res.StatusCode >= 400 {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}

	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Choices) == 0 {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: fmt.Errorf("unexpected response shape: %s", data)}
	}

	return Result{Raw: json.RawMessage(envelope.Choices[0].Message.Content), Provider: a.Name(), Model: a.cfg.ModelName}, nil
}

// anthropicAdapter talks to the Anthropic Messages API.
type anthropicAdapter struct {
	cfg    Config
	client *http.Client
}

func newAnthropic(cfg Config, client *http.Client) *anthropicAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	return &anthropicAdapter{cfg: cfg, client: client}
}

func (a *anthropicAdapter) Name() string { return "anthropic:" + a.cfg.ModelName }

func (a *anthropicAdapter) Complete(ctx context.Context, req Request) (Result, error) {
	body := map[string]any{
		"model":       a.cfg.ModelName,
		"max_tokens":  4096,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &CallError{Kind: ErrKindTimeout, Provider: a.Name(), Wrapped: err}
		}
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return Result{}, &CallError{Kind: ErrKindAuth, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}
	if res.StatusCode >= 500 {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}
	if res.StatusCode >= 400 {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}

	var envelope struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Content) == 0 {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: fmt.Errorf("unexpected response shape: %s", data)}
	}

	return Result{Raw: json.RawMessage(envelope.Content[0].Text), Provider: a.Name(), Model: a.cfg.ModelName}, nil
}

// ollamaAdapter talks to a local Ollama daemon.
type ollamaAdapter struct {
	cfg    Config
	client *http.Client
}

func newOllama(cfg Config, client *http.Client) *ollamaAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	return &ollamaAdapter{cfg: cfg, client: client}
}

func (a *ollamaAdapter) Name() string { return "ollama:" + a.cfg.ModelName }

func (a *ollamaAdapter) Complete(ctx context.Context, req Request) (Result, error) {
	body := map[string]any{
		"model":  a.cfg.ModelName,
		"prompt": req.Prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.Schema != nil {
		body["format"] = json.RawMessage(req.Schema)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &CallError{Kind: ErrKindTimeout, Provider: a.Name(), Wrapped: err}
		}
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: err}
	}
	if res.StatusCode >= 500 {
		return Result{}, &CallError{Kind: ErrKindTransient, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}
	if res.StatusCode >= 400 {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: fmt.Errorf("status %d: %s", res.StatusCode, data)}
	}

	var envelope struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Result{}, &CallError{Kind: ErrKindSchema, Provider: a.Name(), Wrapped: err}
	}

	return Result{Raw: json.RawMessage(envelope.Response), Provider: a.Name(), Model: a.cfg.ModelName}, nil
}
