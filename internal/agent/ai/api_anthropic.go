package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/loomapp/loom/internal/agent/prompt"
	"github.com/loomapp/loom/internal/logging"
)

const defaultMaxTokens = 8192

// AnthropicProvider implements the Anthropic Messages API using the official SDK
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider.
// The model comes from configuration - never hardcode model IDs.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Stream sends a request and returns streaming events
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	messages, system := p.buildMessages(req.Messages)

	model := p.model
	if req.Model != "" {
		model = req.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}

	// Request-level system prompt first, then any system messages from the
	// normalized history (the standing conversation summary lands here).
	var systemBlocks []anthropic.TextBlockParam
	if req.System != "" {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: req.System})
	}
	for _, s := range system {
		systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: s})
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, tool := range req.Tools {
			var schema map[string]interface{}
			if err := json.Unmarshal([]byte(tool.InputSchema), &schema); err != nil {
				logging.Warnf("anthropic: unparsable tool schema for %s: %v", tool.Name, err)
				continue
			}

			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			}
			if required, ok := schema["required"].([]interface{}); ok {
				reqStrings := make([]string, len(required))
				for i, r := range required {
					reqStrings[i], _ = r.(string)
				}
				toolParam.InputSchema.Required = reqStrings
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	logging.Infof("anthropic: request model=%s messages=%d tools=%d", model, len(messages), len(req.Tools))

	stream := p.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(stream, events)

	return events, nil
}

// buildMessages converts normalized prompt messages to Anthropic format.
// System-role messages are returned separately for the system parameter.
func (p *AnthropicProvider) buildMessages(msgs []prompt.Message) ([]anthropic.MessageParam, []string) {
	var result []anthropic.MessageParam
	var system []string

	for _, msg := range msgs {
		switch msg.Role {
		case "user":
			text := segmentText(msg.Segments)
			if text == "" {
				continue // empty text blocks are rejected
			}
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))

		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			for _, seg := range msg.Segments {
				switch seg.Kind {
				case prompt.SegmentText:
					if seg.Text != "" {
						blocks = append(blocks, anthropic.NewTextBlock(seg.Text))
					}
				case prompt.SegmentReasoning:
					// Thinking blocks can't be replayed without their
					// signatures; Anthropic accepts tool use without them.
				case prompt.SegmentToolCall:
					var input map[string]interface{}
					if err := json.Unmarshal(seg.Args, &input); err != nil {
						input = map[string]interface{}{}
					}
					blocks = append(blocks, anthropic.ContentBlockParamUnion{
						OfToolUse: &anthropic.ToolUseBlockParam{
							ID:    seg.ToolCallID,
							Name:  seg.ToolName,
							Input: input,
						},
					})
				}
			}
			if len(blocks) > 0 {
				result = append(result, anthropic.MessageParam{
					Role:    anthropic.MessageParamRoleAssistant,
					Content: blocks,
				})
			}

		case "tool":
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))

		case "system":
			system = append(system, msg.Content)
		}
	}

	return result, system
}

// handleStream processes the streaming response
func (p *AnthropicProvider) handleStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
	defer close(events)

	var currentToolID string
	var currentToolName string
	var inputBuffer string
	var usage Usage

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			cb := event.AsContentBlockStart()
			if toolUse, ok := cb.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				inputBuffer = ""
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta()
			switch d := delta.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				events <- StreamEvent{Type: EventTypeText, Text: d.Text}
			case anthropic.InputJSONDelta:
				inputBuffer += d.PartialJSON
			case anthropic.ThinkingDelta:
				events <- StreamEvent{Type: EventTypeReasoning, Text: d.Thinking}
			}

		case "content_block_stop":
			if currentToolID != "" {
				if inputBuffer == "" {
					inputBuffer = "{}"
				}
				events <- StreamEvent{
					Type: EventTypeToolCall,
					ToolCall: &ToolCall{
						ID:    currentToolID,
						Name:  currentToolName,
						Input: json.RawMessage(inputBuffer),
					},
				}
				currentToolID = ""
				currentToolName = ""
				inputBuffer = ""
			}

		case "message_delta":
			md := event.AsMessageDelta()
			usage.OutputTokens = int(md.Usage.OutputTokens)

		case "message_stop":
			events <- StreamEvent{Type: EventTypeDone, Usage: &usage}
			return

		case "error":
			events <- StreamEvent{
				Type:  EventTypeError,
				Error: fmt.Errorf("stream error: %s", event.RawJSON()),
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		logging.Errorf("anthropic: stream error: %v", err)
		events <- StreamEvent{Type: EventTypeError, Error: err}
		return
	}

	events <- StreamEvent{Type: EventTypeDone, Usage: &usage}
}

// segmentText joins the text segments of a message
func segmentText(segments []prompt.Segment) string {
	var out string
	for _, seg := range segments {
		if seg.Kind == prompt.SegmentText {
			out += seg.Text
		}
	}
	return out
}
