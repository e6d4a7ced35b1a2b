package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/identity"
	"github.com/ashureev/smartrecall/internal/observe"
	"github.com/ashureev/smartrecall/internal/policy"
	"github.com/ashureev/smartrecall/internal/resilience"
	"github.com/ashureev/smartrecall/internal/semcache"
	"github.com/ashureev/smartrecall/internal/store"
)

// Deps are the collaborators of a Service. Cache, Metrics, Tracer and Log may be nil.
type Deps struct {
	Store    store.ConversationStore
	Cache    semcache.Cache
	Profiles []*Profile
	Metrics  observe.Metrics
	Tracer   trace.Tracer
	Log      ConversationLogger
}

// Options tune a Service.
type Options struct {
	// MaxIterations caps model calls per turn, 1..MaxIterationsLimit.
	MaxIterations int
	// ModelTimeout bounds each model call; a timeout takes the fallback path.
	ModelTimeout time.Duration
	// CacheTimeout bounds the semantic cache lookup; a timeout counts as a miss.
	CacheTimeout time.Duration
	// PersistTimeout bounds the store append and cache save after a turn.
	PersistTimeout time.Duration
	// DefaultProfile names the profile used when a turn does not choose one.
	DefaultProfile string
}

// Service orchestrates turns: CheckCache, RunAgent, SaveCache, Done.
type Service struct {
	store    store.ConversationStore
	cache    semcache.Cache
	profiles map[string]*Profile
	metrics  observe.Metrics
	tracer   trace.Tracer
	log      ConversationLogger

	maxIterations  int
	modelTimeout   *resilience.Timeout
	cacheTimeout   *resilience.Timeout
	persistTimeout time.Duration
	defaultProfile string
}

// NewService validates deps and options and returns a Service.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("agent: conversation store is required")
	}
	if len(deps.Profiles) == 0 {
		return nil, errors.New("agent: at least one profile is required")
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxIterations < 1 || opts.MaxIterations > MaxIterationsLimit {
		return nil, fmt.Errorf("agent: max iterations must be between 1 and %d, got %d", MaxIterationsLimit, opts.MaxIterations)
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = DefaultModelTimeout
	}
	if opts.CacheTimeout <= 0 {
		opts.CacheTimeout = DefaultCacheTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}

	s := &Service{
		store:          deps.Store,
		cache:          deps.Cache,
		profiles:       make(map[string]*Profile, len(deps.Profiles)),
		metrics:        deps.Metrics,
		tracer:         deps.Tracer,
		log:            deps.Log,
		maxIterations:  opts.MaxIterations,
		modelTimeout:   resilience.NewTimeout(opts.ModelTimeout),
		cacheTimeout:   resilience.NewTimeout(opts.CacheTimeout),
		persistTimeout: opts.PersistTimeout,
		defaultProfile: opts.DefaultProfile,
	}
	for _, p := range deps.Profiles {
		if p == nil || p.Name == "" || p.Model == nil || p.Tools == nil || p.Policies == nil {
			return nil, errors.New("agent: incomplete profile")
		}
		if _, dup := s.profiles[p.Name]; dup {
			return nil, fmt.Errorf("agent: duplicate profile %q", p.Name)
		}
		s.profiles[p.Name] = p
	}
	if s.defaultProfile == "" {
		s.defaultProfile = deps.Profiles[0].Name
	}
	if _, ok := s.profiles[s.defaultProfile]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, s.defaultProfile)
	}
	if s.cache == nil {
		s.cache = semcache.Disabled{}
	}
	if s.metrics == nil {
		s.metrics = observe.NoopMetrics()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("smartrecall/agent")
	}
	if s.log == nil {
		s.log = noopConversationLogger{}
	}
	return s, nil
}

// Profile returns a registered profile; empty name selects the default.
func (s *Service) Profile(name string) (*Profile, error) {
	if name == "" {
		name = s.defaultProfile
	}
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return p, nil
}

// turn is the working state of one HandleTurn call.
type turn struct {
	req     TurnRequest
	profile *Profile
	history []domain.Message
	result  domain.TurnResult
	failed  bool
	save    *semcache.Entry
	visited []State
}

// HandleTurn answers one user message and appends the (user, assistant)
// pair to the chat. Model failures produce the profile's fallback reply,
// not an error. An error is returned for invalid input, a canceled
// caller, or a failed store append.
func (s *Service) HandleTurn(ctx context.Context, req TurnRequest) (domain.TurnResult, error) {
	start := time.Now()
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ChatID = strings.TrimSpace(req.ChatID)
	if req.SessionID == "" {
		return domain.TurnResult{}, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return domain.TurnResult{}, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if req.ChatID == "" {
		req.ChatID = domain.DefaultChatID
	}
	p, err := s.Profile(req.Profile)
	if err != nil {
		return domain.TurnResult{}, err
	}

	ctx, span := s.tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("smartrecall.profile", p.Name),
		attribute.String("smartrecall.session_id", req.SessionID),
		attribute.Bool("smartrecall.use_cache", req.UseSmartRecall),
	))
	defer span.End()

	history, err := s.store.GetOrCreateHistory(ctx, req.SessionID, req.ChatID)
	if err != nil {
		span.RecordError(err)
		return domain.TurnResult{}, fmt.Errorf("load history: %w", err)
	}
	s.logMessage(ctx, req, "inbound", "chat_user_message", req.Message, nil)

	t := &turn{req: req, profile: p, history: history}
	outcome, err := s.run(ctx, t)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.TurnResult{}, err
	}

	if err := s.persist(ctx, t); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return domain.TurnResult{}, err
	}

	elapsed := time.Since(start)
	s.metrics.Turn(ctx, p.Name, outcome, elapsed)
	s.logMessage(ctx, req, "outbound", "chat_assistant_message", t.result.Content, map[string]any{
		"cached":     t.result.IsCachedResponse,
		"tools_used": t.result.ToolsUsed,
		"outcome":    outcome,
	})
	slog.Info("Turn handled",
		"session_id", req.SessionID,
		"chat_id", req.ChatID,
		"profile", p.Name,
		"outcome", outcome,
		"tools_used", t.result.ToolsUsed,
		"states", stateNames(t.visited),
		"duration_ms", elapsed.Milliseconds(),
	)
	return t.result, nil
}

// run drives the state machine to Done and returns the turn outcome label.
func (s *Service) run(ctx context.Context, t *turn) (string, error) {
	outcome := "miss"
	state := StateCheckCache
	for state != StateDone {
		t.visited = append(t.visited, state)

		var ev Event
		switch state {
		case StateCheckCache:
			ev = s.checkCache(ctx, t)
			switch ev {
			case EventCacheHit:
				outcome = "hit"
			case EventCacheBypass:
				outcome = "bypass"
			}
		case StateRunAgent:
			var err error
			if ev, err = s.runAgent(ctx, t); err != nil {
				return "", err
			}
			if ev == EventFailed {
				outcome = "error"
			}
		case StateSaveCache:
			ev = s.planSave(t)
		}

		next, err := Next(state, ev)
		if err != nil {
			return "", err
		}
		state = next
	}
	t.visited = append(t.visited, StateDone)
	return outcome, nil
}

func (s *Service) checkCache(ctx context.Context, t *turn) Event {
	if !t.req.UseSmartRecall || policy.SkipCaching(t.req.Message) {
		return EventCacheBypass
	}
	type lookup struct {
		hit semcache.Hit
		ok  bool
	}
	res, err := resilience.Do(ctx, s.cacheTimeout, func(ctx context.Context) (lookup, error) {
		hit, ok, err := s.cache.Find(ctx, t.req.SessionID, t.req.Message)
		return lookup{hit: hit, ok: ok}, err
	})
	hit, ok := res.hit, res.ok
	s.metrics.CacheLookup(ctx, t.profile.Name, ok, err)
	if err != nil {
		slog.Warn("Semantic cache lookup failed, treating as miss",
			"session_id", t.req.SessionID,
			"error", err,
		)
		return EventCacheMiss
	}
	if !ok {
		return EventCacheMiss
	}
	slog.Debug("Semantic cache hit",
		"session_id", t.req.SessionID,
		"similarity", hit.Similarity,
		"entry_id", hit.ID,
	)
	t.result = domain.TurnResult{Content: hit.Response, IsCachedResponse: true}
	return EventCacheHit
}

// runAgent executes the dispatch loop. Loop failures become the fallback
// reply; only caller cancellation is returned as an error.
func (s *Service) runAgent(ctx context.Context, t *turn) (Event, error) {
	res, err := s.runLoop(ctx, t.profile, t.req, t.history)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return EventFailed, fmt.Errorf("turn abandoned: %w", ctxErr)
		}
		slog.Error("Agent loop failed",
			"session_id", t.req.SessionID,
			"chat_id", t.req.ChatID,
			"profile", t.profile.Name,
			"iterations", res.iterations,
			"error", err,
		)
		t.failed = true
		t.result = domain.TurnResult{
			Content:   t.profile.Fallback,
			ToolsUsed: []string{ErrorToolTag},
		}
		return EventFailed, nil
	}
	t.result = domain.TurnResult{
		Content:       res.content,
		ToolsUsed:     res.toolsUsed,
		FoundProducts: res.foundProducts,
	}
	return EventAnswered, nil
}

// planSave decides whether the answer is cached and with which policy.
// The write itself happens in persist, alongside the store append.
func (s *Service) planSave(t *turn) Event {
	switch {
	case !t.req.UseSmartRecall, t.failed, strings.TrimSpace(t.result.Content) == "":
		return EventSaveSkipped
	case policy.SkipCaching(t.req.Message):
		slog.Debug("Skipping cache for cart operation", "session_id", t.req.SessionID)
		return EventSaveSkipped
	}
	pol := t.profile.Policies.Classify(t.req.Message)
	t.result.CacheTopic = pol.Topic
	t.save = &semcache.Entry{
		SessionID: t.req.SessionID,
		Prompt:    t.req.Message,
		Response:  t.result.Content,
		Topic:     pol.Topic,
		TTL:       pol.TTL,
	}
	return EventSaved
}

// persist appends the turn and saves the cache entry concurrently on a
// context detached from the caller, so a disconnect cannot interrupt
// writes that have started. Cache failures are logged; store failures
// are returned.
func (s *Service) persist(ctx context.Context, t *turn) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		err := s.store.AppendTurn(pctx, t.req.SessionID, t.req.ChatID,
			domain.UserMessage(t.req.Message),
			domain.AssistantMessage(t.result.Content),
		)
		if err != nil {
			return fmt.Errorf("append turn: %w", err)
		}
		return nil
	})
	if t.save != nil {
		entry := *t.save
		g.Go(func() error {
			err := s.cache.Save(pctx, entry)
			s.metrics.CacheSave(pctx, t.profile.Name, entry.Topic, err)
			if err != nil {
				slog.Warn("Failed to save response to semantic cache",
					"session_id", entry.SessionID,
					"topic", entry.Topic,
					"error", err,
				)
				return nil
			}
			slog.Debug("Saved response to semantic cache",
				"session_id", entry.SessionID,
				"topic", entry.Topic,
				"ttl_ms", entry.TTL.Milliseconds(),
			)
			return nil
		})
	}
	return g.Wait()
}

// EndSession deletes the session document and its cache entries. Calling
// it for an unknown session returns zero counts. Cache failures are
// logged and reported as zero cleared entries.
func (s *Service) EndSession(ctx context.Context, sessionID string) (domain.EndSessionResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.EndSessionResult{}, fmt.Errorf("%w: session id is required", ErrInvalidRequest)
	}

	deleted, err := s.store.DeleteSession(ctx, sessionID)
	if err != nil {
		return domain.EndSessionResult{}, fmt.Errorf("delete session: %w", err)
	}
	cleared, err := s.cache.ClearSession(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to clear semantic cache for session", "session_id", sessionID, "error", err)
		cleared = 0
	}

	slog.Info("Session ended",
		"session_id", sessionID,
		"deleted_sessions", deleted,
		"cleared_cache_entries", cleared,
	)
	return domain.EndSessionResult{DeletedSessionsCount: deleted, ClearedCacheCount: cleared}, nil
}

// History returns the stored transcript of a chat.
func (s *Service) History(ctx context.Context, sessionID, chatID string) ([]domain.Message, error) {
	if chatID == "" {
		chatID = domain.DefaultChatID
	}
	return s.store.GetOrCreateHistory(ctx, sessionID, chatID)
}

// Close releases the conversation logger.
func (s *Service) Close() error {
	return s.log.Close()
}

func (s *Service) logMessage(ctx context.Context, req TurnRequest, direction, eventType, content string, meta map[string]any) {
	s.log.Log(ConversationLogEvent{
		UserID:     identity.SubjectFromContext(ctx),
		SessionID:  req.SessionID,
		ChatID:     req.ChatID,
		Channel:    "chat",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta:       meta,
	})
}
