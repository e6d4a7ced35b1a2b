package agent

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/resilience"
	"github.com/ashureev/smartrecall/internal/tools"
)

// loopResult is the terminal answer of one dispatch loop.
type loopResult struct {
	content       string
	toolsUsed     []string
	foundProducts []domain.Product
	iterations    int
}

// buildMessages assembles the model input: system prompt, stored history, new message.
func buildMessages(system string, history []domain.Message, userMessage string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, llm.System(system))
	}
	for _, m := range history {
		switch m.Role {
		case domain.RoleUser:
			msgs = append(msgs, llm.User(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, llm.Assistant(m.Content))
		}
	}
	return append(msgs, llm.User(userMessage))
}

// runLoop calls the model until it answers without tool calls or the
// iteration cap is reached. Tool failures are fed back to the model as
// structured error results; model failures end the loop with an error.
func (s *Service) runLoop(ctx context.Context, p *Profile, req TurnRequest, history []domain.Message) (loopResult, error) {
	msgs := buildMessages(p.SystemPrompt(req.SessionID), history, req.Message)
	specs := p.Tools.Specs()
	inv := tools.Invocation{SessionID: req.SessionID, ChatID: req.ChatID}

	var res loopResult
	for res.iterations < s.maxIterations {
		res.iterations++

		chatReq := llm.Request{
			Messages:    msgs,
			Tools:       specs,
			Temperature: llm.Float(agentTemperature),
		}
		resp, err := resilience.Do(ctx, s.modelTimeout, func(ctx context.Context) (*llm.Response, error) {
			return p.Model.Chat(ctx, chatReq)
		})
		if err != nil {
			return res, fmt.Errorf("model call %d: %w", res.iterations, err)
		}
		if !resp.HasToolCalls() {
			res.content = resp.Message.Content
			if len(res.toolsUsed) == 0 {
				res.toolsUsed = []string{NoToolTag}
			}
			return res, nil
		}

		msgs = append(msgs, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			out := s.dispatch(ctx, p, inv, call)
			res.toolsUsed = append(res.toolsUsed, call.Name)
			if products, ok := tools.FoundProducts(call.Name, out.Content); ok {
				res.foundProducts = products
			}
			msgs = append(msgs, llm.ToolResult(call, out.Content))
		}
	}
	return res, fmt.Errorf("%w after %d model calls", ErrIterationLimit, res.iterations)
}

func (s *Service) dispatch(ctx context.Context, p *Profile, inv tools.Invocation, call llm.ToolCall) tools.Result {
	ctx, span := s.tracer.Start(ctx, "tool."+call.Name, trace.WithAttributes(
		attribute.String("smartrecall.profile", p.Name),
		attribute.String("smartrecall.tool", call.Name),
	))
	defer span.End()

	out := p.Tools.Dispatch(ctx, inv, call)
	s.metrics.ToolCall(ctx, call.Name, out.Duration, out.Err)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "tool failed")
	}
	slog.Debug("Tool dispatched",
		"session_id", inv.SessionID,
		"chat_id", inv.ChatID,
		"tool", call.Name,
		"duration_ms", out.Duration.Milliseconds(),
		"failed", out.Err != nil,
	)
	return out
}
