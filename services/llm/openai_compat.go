// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

var compatTracer = otel.Tracer("kiska.llm.openai_compat")

// maxErrorBodyChars clips provider error bodies in ProviderError.
const maxErrorBodyChars = 2048

// OpenAICompatClient talks to any OpenAI-compatible chat completions
// endpoint: llama.cpp server, vLLM, LM Studio, or Ollama's /v1 surface.
//
// Thread Safety: OpenAICompatClient is safe for concurrent use.
type OpenAICompatClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	model      datatypes.ResolvedModel
	baseURL    string
}

// NewOpenAICompatClient creates a client for the routed model. Requests
// are paced by a small rate limiter so a tight repair-retry loop cannot
// hammer a single-GPU server.
func NewOpenAICompatClient(model datatypes.ResolvedModel) *OpenAICompatClient {
	return &OpenAICompatClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		model:      model,
		baseURL:    strings.TrimSuffix(model.Endpoint, "/"),
	}
}

// Name implements Client.
func (c *OpenAICompatClient) Name() string { return ProviderOpenAICompat }

// Model implements Client.
func (c *OpenAICompatClient) Model() string { return c.model.ModelName }

// chatCompletionBody is the request body for /v1/chat/completions.
// Extra body fields are merged in at marshal time.
type chatCompletionBody struct {
	Model       string                  `json:"model"`
	Messages    []datatypes.ChatMessage `json:"messages"`
	Stream      bool                    `json:"stream"`
	Temperature *float32                `json:"temperature,omitempty"`
	MaxTokens   *int                    `json:"max_tokens,omitempty"`
	TopP        *float32                `json:"top_p,omitempty"`
	MinP        *float32                `json:"min_p,omitempty"`
	TopK        *int                    `json:"top_k,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Completion implements Client.
func (c *OpenAICompatClient) Completion(ctx context.Context, request ChatRequest) (*ChatReply, error) {
	ctx, span := compatTracer.Start(ctx, "OpenAICompatClient.Completion")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model.ModelName))

	body, err := c.do(ctx, request, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		span.RecordError(err)
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL, Err: err}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL,
			Err: fmt.Errorf("unparseable completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL,
			Err: fmt.Errorf("completion response has no choices")}
	}

	return &ChatReply{Content: parsed.Choices[0].Message.Content, Raw: raw}, nil
}

// Stream implements Client. Tokens are forwarded to onToken as SSE
// chunks arrive; the assembled content is returned at the end.
func (c *OpenAICompatClient) Stream(ctx context.Context, request ChatRequest, onToken TokenCallback) (*ChatReply, error) {
	ctx, span := compatTracer.Start(ctx, "OpenAICompatClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model.ModelName))

	body, err := c.do(ctx, request, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer body.Close()

	var content strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Debug("skipping unparseable stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		content.WriteString(token)
		if onToken != nil {
			onToken(token)
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL, Err: err}
	}

	return &ChatReply{Content: content.String()}, nil
}

// do issues the HTTP request and returns the response body on 2xx.
func (c *OpenAICompatClient) do(ctx context.Context, request ChatRequest, stream bool) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL, Err: err}
	}

	payload, err := c.buildBody(request, stream)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL, Err: err}
	}

	if request.DebugEnabled {
		slog.Debug("llm request",
			"provider", c.Name(),
			"model", c.model.ModelName,
			"tag", request.DebugTag,
			"stream", stream,
			"bytes", len(payload),
		)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.model.Credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.model.Credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.baseURL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyChars))
		resp.Body.Close()
		return nil, &ProviderError{
			Provider:   c.Name(),
			Endpoint:   c.baseURL,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}
	return resp.Body, nil
}

// buildBody marshals the request with sampling fields, the think-bypass
// primer, and merged extra body fields (request wins over model).
func (c *OpenAICompatClient) buildBody(request ChatRequest, stream bool) ([]byte, error) {
	body := chatCompletionBody{
		Model:       c.model.ModelName,
		Messages:    applyThinkBypass(request),
		Stream:      stream,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxTokens,
		TopP:        request.TopP,
		MinP:        request.MinP,
		TopK:        request.TopK,
	}
	if body.Temperature == nil {
		body.Temperature = c.model.Temperature
	}
	if body.MaxTokens == nil {
		body.MaxTokens = c.model.MaxTokens
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion body: %w", err)
	}

	extra := mergeExtraBody(c.model.ExtraParams, request.ExtraBody)
	if len(extra) == 0 {
		return raw, nil
	}

	// Re-open the object and graft the extra fields in.
	var merged map[string]any
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, fmt.Errorf("failed to merge extra body: %w", err)
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}
