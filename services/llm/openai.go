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
	"context"
	"errors"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/KiskaLocal/services/agent/datatypes"
)

var openaiTracer = otel.Tracer("kiska.llm.openai")

// OpenAIClient adapts the go-openai SDK to the Client interface, for
// hosted OpenAI-protocol endpoints. Local servers should prefer
// OpenAICompatClient, which forwards min_p/top_k and extra body fields
// the SDK does not model.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  datatypes.ResolvedModel
}

// NewOpenAIClient creates an SDK-backed client for the routed model.
func NewOpenAIClient(model datatypes.ResolvedModel) *OpenAIClient {
	cfg := openai.DefaultConfig(model.Credential)
	if model.Endpoint != "" {
		cfg.BaseURL = model.Endpoint
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name implements Client.
func (c *OpenAIClient) Name() string { return ProviderOpenAI }

// Model implements Client.
func (c *OpenAIClient) Model() string { return c.model.ModelName }

// Completion implements Client.
func (c *OpenAIClient) Completion(ctx context.Context, request ChatRequest) (*ChatReply, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Completion")
	defer span.End()

	resp, err := c.client.CreateChatCompletion(ctx, c.buildRequest(request, false))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: c.Name(), Endpoint: c.model.Endpoint,
			Err: errors.New("completion response has no choices")}
	}
	return &ChatReply{Content: resp.Choices[0].Message.Content}, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, request ChatRequest, onToken TokenCallback) (*ChatReply, error) {
	ctx, span := openaiTracer.Start(ctx, "OpenAIClient.Stream")
	defer span.End()

	stream, err := c.client.CreateChatCompletionStream(ctx, c.buildRequest(request, true))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, c.wrapError(err)
	}
	defer stream.Close()

	var content []byte
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, c.wrapError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		content = append(content, token...)
		if onToken != nil {
			onToken(token)
		}
	}

	return &ChatReply{Content: string(content)}, nil
}

// buildRequest converts a ChatRequest into the SDK's request type.
// min_p, top_k, and ExtraBody have no SDK fields and are dropped with a
// debug note; route such models through openai-compat instead.
func (c *OpenAIClient) buildRequest(request ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := applyThinkBypass(request)
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model.ModelName,
		Messages: converted,
		Stream:   stream,
	}
	if request.Temperature != nil {
		req.Temperature = *request.Temperature
	} else if c.model.Temperature != nil {
		req.Temperature = *c.model.Temperature
	}
	if request.MaxTokens != nil {
		req.MaxCompletionTokens = *request.MaxTokens
	} else if c.model.MaxTokens != nil {
		req.MaxCompletionTokens = *c.model.MaxTokens
	}
	if request.TopP != nil {
		req.TopP = *request.TopP
	}

	if request.MinP != nil || request.TopK != nil || len(request.ExtraBody) > 0 || len(c.model.ExtraParams) > 0 {
		slog.Debug("openai sdk drops min_p/top_k/extra body fields",
			"model", c.model.ModelName, "tag", request.DebugTag)
	}

	return req
}

// wrapError converts SDK errors into ProviderError.
func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   c.Name(),
			Endpoint:   c.model.Endpoint,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
		}
	}
	return &ProviderError{Provider: c.Name(), Endpoint: c.model.Endpoint, Err: err}
}
