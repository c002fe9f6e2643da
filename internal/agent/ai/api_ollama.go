package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/loomapp/loom/internal/agent/prompt"
	"github.com/loomapp/loom/internal/logging"
)

// OllamaProvider implements the Provider interface for local models via Ollama
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	httpClient := &http.Client{
		Timeout: 5 * time.Minute, // Local inference can be slow
	}

	return &OllamaProvider{
		client: api.NewClient(parsedURL, httpClient),
		model:  model,
	}
}

// ID returns the provider identifier
func (p *OllamaProvider) ID() string {
	return "ollama"
}

// Stream sends a request to Ollama and streams the response
func (p *OllamaProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	resultCh := make(chan StreamEvent, 100)

	messages := p.buildMessages(req)

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
	}

	stream := true
	chatReq.Stream = &stream

	if req.Temperature > 0 || req.MaxTokens > 0 {
		chatReq.Options = make(map[string]any)
		if req.Temperature > 0 {
			chatReq.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			chatReq.Options["num_predict"] = req.MaxTokens
		}
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = p.buildTools(req.Tools)
	}

	logging.Infof("ollama: request model=%s messages=%d tools=%d", model, len(messages), len(req.Tools))

	go func() {
		defer close(resultCh)

		toolCallCounter := 0
		var usage Usage

		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				resultCh <- StreamEvent{Type: EventTypeText, Text: resp.Message.Content}
			}

			for _, tc := range resp.Message.ToolCalls {
				toolCallCounter++
				argsJSON, _ := json.Marshal(tc.Function.Arguments.ToMap())
				resultCh <- StreamEvent{
					Type: EventTypeToolCall,
					ToolCall: &ToolCall{
						ID:    fmt.Sprintf("ollama-call-%d", toolCallCounter),
						Name:  tc.Function.Name,
						Input: argsJSON,
					},
				}
			}

			if resp.Done {
				usage.InputTokens = resp.PromptEvalCount
				usage.OutputTokens = resp.EvalCount
				resultCh <- StreamEvent{Type: EventTypeDone, Usage: &usage}
			}
			return nil
		})

		if err != nil {
			logging.Errorf("ollama: stream error: %v", err)
			resultCh <- StreamEvent{Type: EventTypeError, Error: err}
		}
	}()

	return resultCh, nil
}

// buildMessages converts normalized prompt messages to Ollama format
func (p *OllamaProvider) buildMessages(req *ChatRequest) []api.Message {
	messages := make([]api.Message, 0, len(req.Messages)+1)

	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			messages = append(messages, api.Message{
				Role:    "user",
				Content: segmentText(msg.Segments),
			})

		case "assistant":
			assistantMsg := api.Message{Role: "assistant"}
			for _, seg := range msg.Segments {
				switch seg.Kind {
				case prompt.SegmentText:
					assistantMsg.Content += seg.Text
				case prompt.SegmentToolCall:
					args := api.NewToolCallFunctionArguments()
					var argsMap map[string]any
					if err := json.Unmarshal(seg.Args, &argsMap); err == nil {
						for k, v := range argsMap {
							args.Set(k, v)
						}
					}
					assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, api.ToolCall{
						ID: seg.ToolCallID,
						Function: api.ToolCallFunction{
							Name:      seg.ToolName,
							Arguments: args,
						},
					})
				}
			}
			if assistantMsg.Content != "" || len(assistantMsg.ToolCalls) > 0 {
				messages = append(messages, assistantMsg)
			}

		case "tool":
			messages = append(messages, api.Message{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				ToolName:   msg.ToolName,
			})

		case "system":
			messages = append(messages, api.Message{Role: "system", Content: msg.Content})
		}
	}

	return messages
}

// buildTools converts tool definitions to Ollama format
func (p *OllamaProvider) buildTools(defs []ToolDefinition) api.Tools {
	tools := make(api.Tools, 0, len(defs))
	for _, def := range defs {
		var fn api.ToolFunction
		fn.Name = def.Name
		fn.Description = def.Description
		if err := json.Unmarshal(def.InputSchema, &fn.Parameters); err != nil {
			logging.Warnf("ollama: unparsable tool schema for %s: %v", def.Name, err)
			continue
		}
		tools = append(tools, api.Tool{Type: "function", Function: fn})
	}
	return tools
}
