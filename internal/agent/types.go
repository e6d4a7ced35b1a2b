// Package agent implements the SmartRecall orchestrator: a cache-first
// state machine around a bounded tool-dispatch loop.
package agent

import (
	"errors"
	"time"

	"github.com/ashureev/smartrecall/internal/domain"
)

// Profile names.
const (
	ProfileGeneral = "general"
	ProfileGrocery = "grocery"
)

const (
	// DefaultMaxIterations bounds model calls per turn.
	DefaultMaxIterations = 8
	// MaxIterationsLimit is the largest accepted iteration cap.
	MaxIterationsLimit = 10
	// DefaultModelTimeout bounds a single model call.
	DefaultModelTimeout = 30 * time.Second
	// DefaultCacheTimeout bounds a semantic cache lookup.
	DefaultCacheTimeout = 5 * time.Second
	// DefaultPersistTimeout bounds the detached persistence step.
	DefaultPersistTimeout = 5 * time.Second
	// ErrorToolTag is reported in toolsUsed when the loop failed.
	ErrorToolTag = "error"
	// NoToolTag is reported in toolsUsed when the model answered directly.
	NoToolTag = "none"
)

var (
	// ErrInvalidRequest is returned for caller input errors.
	ErrInvalidRequest = errors.New("agent: invalid request")
	// ErrUnknownProfile is returned when a turn names a profile that is not registered.
	ErrUnknownProfile = errors.New("agent: unknown profile")
	// ErrIterationLimit is returned when the model keeps requesting tools past the cap.
	ErrIterationLimit = errors.New("agent: iteration limit reached")
)

// TurnRequest is one user message to be handled.
type TurnRequest struct {
	SessionID      string
	ChatID         string
	Message        string
	UseSmartRecall bool
	// Profile selects the tool set and cache policy table. Empty means the service default.
	Profile string
}

// ChatRequest is the JSON body of POST /api/chat and of websocket frames.
type ChatRequest struct {
	Message        string `json:"message"`
	SessionID      string `json:"sessionId,omitempty"`
	ChatID         string `json:"chatId,omitempty"`
	UseSmartRecall *bool  `json:"useSmartRecall,omitempty"`
	Profile        string `json:"profile,omitempty"`
}

// turnRequest resolves defaults. The session id falls back to fallbackSession.
func (r ChatRequest) turnRequest(fallbackSession string) TurnRequest {
	sessionID := r.SessionID
	if sessionID == "" {
		sessionID = fallbackSession
	}
	useCache := true
	if r.UseSmartRecall != nil {
		useCache = *r.UseSmartRecall
	}
	return TurnRequest{
		SessionID:      sessionID,
		ChatID:         r.ChatID,
		Message:        r.Message,
		UseSmartRecall: useCache,
		Profile:        r.Profile,
	}
}

// ChatResponse is the JSON reply to a chat turn.
type ChatResponse struct {
	Reply            string           `json:"reply"`
	IsCachedResponse bool             `json:"isCachedResponse"`
	ToolsUsed        []string         `json:"toolsUsed"`
	FoundProducts    []domain.Product `json:"foundProducts"`
	SessionID        string           `json:"sessionId"`
	ChatID           string           `json:"chatId"`
}

func newChatResponse(req TurnRequest, res domain.TurnResult) ChatResponse {
	resp := ChatResponse{
		Reply:            res.Content,
		IsCachedResponse: res.IsCachedResponse,
		ToolsUsed:        res.ToolsUsed,
		FoundProducts:    res.FoundProducts,
		SessionID:        req.SessionID,
		ChatID:           req.ChatID,
	}
	if resp.ToolsUsed == nil {
		resp.ToolsUsed = []string{}
	}
	if resp.FoundProducts == nil {
		resp.FoundProducts = []domain.Product{}
	}
	return resp
}
