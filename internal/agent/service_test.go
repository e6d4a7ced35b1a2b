package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/smartrecall/internal/domain"
	"github.com/ashureev/smartrecall/internal/llm"
	"github.com/ashureev/smartrecall/internal/policy"
	"github.com/ashureev/smartrecall/internal/semcache"
	"github.com/ashureev/smartrecall/internal/tools"
)

func generalTurn(sessionID, msg string) TurnRequest {
	return TurnRequest{SessionID: sessionID, Message: msg, UseSmartRecall: true, Profile: ProfileGeneral}
}

func TestHandleTurnCachesWeatherPerSession(t *testing.T) {
	e := newTestEnv(t, callThenAnswer(tools.NameWebSearch, `{"query":"weather in Paris"}`, "It's 18°C and sunny in Paris."))
	ctx := context.Background()
	const question = "What's the weather in Paris?"

	first, err := e.svc.HandleTurn(ctx, generalTurn("s1", question))
	require.NoError(t, err)
	assert.False(t, first.IsCachedResponse)
	assert.Equal(t, "It's 18°C and sunny in Paris.", first.Content)
	assert.Equal(t, []string{tools.NameWebSearch}, first.ToolsUsed)
	assert.Equal(t, policy.TopicWeather, first.CacheTopic)
	assert.Equal(t, 2, e.model.Calls())
	assert.Equal(t, 1, e.searcher.Calls())

	saves := e.cache.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, policy.TopicWeather, saves[0].Topic)
	assert.Equal(t, int64(3600000), saves[0].TTL.Milliseconds())
	assert.Equal(t, "s1", saves[0].SessionID)

	second, err := e.svc.HandleTurn(ctx, generalTurn("s1", question))
	require.NoError(t, err)
	assert.True(t, second.IsCachedResponse)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 2, e.model.Calls(), "cache hit must not call the model")
	assert.Equal(t, 1, e.searcher.Calls())
	assert.Len(t, e.cache.Saves(), 1)

	other, err := e.svc.HandleTurn(ctx, generalTurn("s2", question))
	require.NoError(t, err)
	assert.False(t, other.IsCachedResponse, "entries never cross sessions")
	assert.Equal(t, 4, e.model.Calls())

	assert.Len(t, e.history(t, "s1", domain.DefaultChatID), 4, "a cache hit still records the turn")
	assert.Len(t, e.history(t, "s2", domain.DefaultChatID), 2)
}

func TestHandleTurnIterationCap(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return toolCall(tools.NameWebSearch, `{"query":"again"}`), nil
	})
	svc := e.newService(t, e.cache, Options{MaxIterations: 3})

	res, err := svc.HandleTurn(context.Background(), generalTurn("s1", "Tell me the latest news"))
	require.NoError(t, err)
	assert.Equal(t, generalFallback, res.Content)
	assert.Equal(t, []string{ErrorToolTag}, res.ToolsUsed)
	assert.False(t, res.IsCachedResponse)
	assert.Equal(t, 3, e.model.Calls())
	assert.Equal(t, 3, e.searcher.Calls())
	assert.Empty(t, e.cache.Saves(), "fallback replies are not cached")

	msgs := e.history(t, "s1", domain.DefaultChatID)
	require.Len(t, msgs, 2)
	assert.Equal(t, generalFallback, msgs[1].Content)
}

func TestHandleTurnModelFailureFallsBack(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, errors.New("upstream 502")
	})

	res, err := e.svc.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s1", Message: "how do I store spinach", UseSmartRecall: true, Profile: ProfileGrocery,
	})
	require.NoError(t, err)
	assert.Equal(t, groceryFallback, res.Content)
	assert.Equal(t, []string{ErrorToolTag}, res.ToolsUsed)
	assert.Empty(t, e.cache.Saves())
	assert.Len(t, e.history(t, "s1", domain.DefaultChatID), 2)
}

func TestHandleTurnCartOperationsBypassCache(t *testing.T) {
	e := newTestEnv(t, callThenAnswer(tools.NameAddToCart, `{"productIds":["p-milk"],"quantities":[1]}`, "Added Whole Milk to your cart."))
	ctx := context.Background()
	req := TurnRequest{SessionID: "s1", Message: "add p-milk to my cart", UseSmartRecall: true, Profile: ProfileGrocery}

	for i := 0; i < 2; i++ {
		res, err := e.svc.HandleTurn(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.IsCachedResponse)
		assert.Equal(t, []string{tools.NameAddToCart}, res.ToolsUsed)
		assert.Empty(t, res.CacheTopic)
	}

	assert.Zero(t, e.cache.Finds())
	assert.Empty(t, e.cache.Saves())

	view, err := e.cart.View(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "p-milk", view.Items[0].ProductID)
	assert.Equal(t, 2, view.Items[0].Quantity)
}

func TestHandleTurnSmartRecallDisabled(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return answer("Photosynthesis converts light into chemical energy."), nil
	})
	ctx := context.Background()
	req := generalTurn("s1", "explain photosynthesis")
	req.UseSmartRecall = false

	for i := 0; i < 2; i++ {
		res, err := e.svc.HandleTurn(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.IsCachedResponse)
		assert.Equal(t, []string{NoToolTag}, res.ToolsUsed)
	}
	assert.Equal(t, 2, e.model.Calls())
	assert.Zero(t, e.cache.Finds())
	assert.Empty(t, e.cache.Saves())
}

func TestHandleTurnRecordsTwoMessagesPerTurn(t *testing.T) {
	e := newTestEnv(t, func(_ context.Context, req llm.Request) (*llm.Response, error) {
		return answer("echo: " + req.Messages[len(req.Messages)-1].Content), nil
	})
	ctx := context.Background()
	inputs := []string{"first question", "second question", "third question"}

	for _, in := range inputs {
		_, err := e.svc.HandleTurn(ctx, TurnRequest{SessionID: "s1", ChatID: "c1", Message: in, Profile: ProfileGeneral})
		require.NoError(t, err)
	}

	msgs := e.history(t, "s1", "c1")
	require.Len(t, msgs, 2*len(inputs))
	for i, in := range inputs {
		assert.Equal(t, domain.RoleUser, msgs[2*i].Role)
		assert.Equal(t, in, msgs[2*i].Content)
		assert.Equal(t, domain.RoleAssistant, msgs[2*i+1].Role)
		assert.Equal(t, "echo: "+in, msgs[2*i+1].Content)
	}

	// The third call saw both earlier turns between the system prompt and the new message.
	req := e.model.Request(2)
	require.Len(t, req.Messages, 6)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "first question", req.Messages[1].Content)
	assert.Equal(t, "third question", req.Messages[5].Content)
}

func TestHandleTurnGroceryPromptCarriesSession(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return answer("Keep spinach dry and refrigerated."), nil
	})

	_, err := e.svc.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s-42", Message: "how do I store spinach", UseSmartRecall: true, Profile: ProfileGrocery,
	})
	require.NoError(t, err)

	req := e.model.Request(0)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Session ID: s-42")
	assert.Len(t, req.Tools, 7)
}

func TestHandleTurnFoundProducts(t *testing.T) {
	e := newTestEnv(t, callThenAnswer(tools.NameSearchProducts, `{"query":"pasta"}`, "**Penne Pasta** by Barilla (ID: p-pasta)"))

	res, err := e.svc.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s1", Message: "find me some pasta", UseSmartRecall: true, Profile: ProfileGrocery,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.FoundProducts)
	assert.Equal(t, "p-pasta", res.FoundProducts[0].ID)
	assert.Equal(t, policy.TopicGroceries, res.CacheTopic)

	saves := e.cache.Saves()
	require.Len(t, saves, 1)
	assert.Equal(t, 6*time.Hour, saves[0].TTL)
}

func TestHandleTurnUnknownToolContinues(t *testing.T) {
	e := newTestEnv(t, callThenAnswer("teleport", `{}`, "I can't do that, but here is what I know."))

	res, err := e.svc.HandleTurn(context.Background(), generalTurn("s1", "teleport me to Mars"))
	require.NoError(t, err)
	assert.Equal(t, "I can't do that, but here is what I know.", res.Content)
	assert.Equal(t, []string{"teleport"}, res.ToolsUsed)

	require.Equal(t, 2, e.model.Calls())
	followUp := e.model.Request(1)
	last := followUp.Messages[len(followUp.Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, tools.ErrorResult(tools.UnknownToolMessage), last.Content)
}

type failingCache struct{}

func (failingCache) Find(context.Context, string, string) (semcache.Hit, bool, error) {
	return semcache.Hit{}, false, semcache.ErrUnavailable
}

func (failingCache) Save(context.Context, semcache.Entry) error { return semcache.ErrUnavailable }

func (failingCache) ClearSession(context.Context, string) (int64, error) {
	return 0, semcache.ErrUnavailable
}

func TestHandleTurnCacheFailuresDegrade(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return answer("A definition."), nil
	})
	svc := e.newService(t, failingCache{}, Options{})
	ctx := context.Background()

	res, err := svc.HandleTurn(ctx, generalTurn("s1", "definition of entropy"))
	require.NoError(t, err)
	assert.Equal(t, "A definition.", res.Content)
	assert.False(t, res.IsCachedResponse)
	assert.Len(t, e.history(t, "s1", domain.DefaultChatID), 2)

	ended, err := svc.EndSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.EndSessionResult{DeletedSessionsCount: 1, ClearedCacheCount: 0}, ended)
}

func TestHandleTurnModelTimeoutFallsBack(t *testing.T) {
	hadDeadline := make(chan bool, 1)
	e := newTestEnv(t, func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		_, ok := ctx.Deadline()
		hadDeadline <- ok
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc := e.newService(t, e.cache, Options{ModelTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := svc.HandleTurn(context.Background(), generalTurn("s1", "explain tides"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, <-hadDeadline)
	assert.Equal(t, generalFallback, res.Content)
	assert.Equal(t, []string{ErrorToolTag}, res.ToolsUsed)
	assert.Empty(t, e.cache.Saves())
	assert.Len(t, e.history(t, "s1", domain.DefaultChatID), 2)
}

// stalledCache blocks every lookup until its context ends.
type stalledCache struct {
	semcache.Disabled
}

func (stalledCache) Find(ctx context.Context, _, _ string) (semcache.Hit, bool, error) {
	<-ctx.Done()
	return semcache.Hit{}, false, ctx.Err()
}

func TestHandleTurnStalledCacheLookupIsAMiss(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return answer("Tides follow the moon."), nil
	})
	svc := e.newService(t, stalledCache{}, Options{CacheTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := svc.HandleTurn(context.Background(), generalTurn("s1", "explain tides"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, "Tides follow the moon.", res.Content)
	assert.False(t, res.IsCachedResponse)
	assert.Equal(t, 1, e.model.Calls())
}

func TestHandleTurnCanceledCallerPersistsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newTestEnv(t, func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		cancel()
		return nil, ctx.Err()
	})

	_, err := e.svc.HandleTurn(ctx, generalTurn("s1", "explain gravity"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, e.history(t, "s1", domain.DefaultChatID))
	assert.Empty(t, e.cache.Saves())
}

func TestHandleTurnInvalidRequests(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return answer("unused"), nil
	})

	tests := []struct {
		name string
		req  TurnRequest
		want error
	}{
		{name: "missing session", req: TurnRequest{Message: "hi"}, want: ErrInvalidRequest},
		{name: "blank session", req: TurnRequest{SessionID: "  ", Message: "hi"}, want: ErrInvalidRequest},
		{name: "missing message", req: TurnRequest{SessionID: "s1"}, want: ErrInvalidRequest},
		{name: "whitespace message", req: TurnRequest{SessionID: "s1", Message: "\n\t "}, want: ErrInvalidRequest},
		{name: "unknown profile", req: TurnRequest{SessionID: "s1", Message: "hi", Profile: "travel"}, want: ErrUnknownProfile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.HandleTurn(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, e.model.Calls())
}

func TestEndSession(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()

	for _, chat := range []string{"c1", "c2", "c3"} {
		require.NoError(t, e.store.AppendTurn(ctx, "s1", chat, domain.UserMessage("q"), domain.AssistantMessage("a")))
	}
	prompts := []string{"weather in Oslo", "stock price of ACME", "latest headlines", "define entropy", "time in Tokyo"}
	for _, p := range prompts {
		require.NoError(t, e.cache.Save(ctx, semcache.Entry{SessionID: "s1", Prompt: p, Response: "r", Topic: "t", TTL: time.Hour}))
	}
	require.NoError(t, e.cache.Save(ctx, semcache.Entry{SessionID: "s2", Prompt: "weather in Oslo", Response: "r", TTL: time.Hour}))

	got, err := e.svc.EndSession(ctx, "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(domain.EndSessionResult{DeletedSessionsCount: 1, ClearedCacheCount: 5}, got); diff != "" {
		t.Errorf("EndSession mismatch (-want +got):\n%s", diff)
	}

	again, err := e.svc.EndSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.EndSessionResult{}, again)

	_, ok, err := e.cache.Find(ctx, "s2", "weather in Oslo")
	require.NoError(t, err)
	assert.True(t, ok, "other sessions keep their entries")

	_, err = e.svc.EndSession(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRunVisitsStates(t *testing.T) {
	e := newTestEnv(t, func(context.Context, llm.Request) (*llm.Response, error) {
		return answer("Water boils at 100°C at sea level."), nil
	})
	ctx := context.Background()
	general, err := e.svc.Profile(ProfileGeneral)
	require.NoError(t, err)

	miss := &turn{req: generalTurn("s1", "explain boiling point"), profile: general}
	outcome, err := e.svc.run(ctx, miss)
	require.NoError(t, err)
	assert.Equal(t, "miss", outcome)
	assert.Equal(t, []State{StateCheckCache, StateRunAgent, StateSaveCache, StateDone}, miss.visited)
	require.NotNil(t, miss.save)
	require.NoError(t, e.svc.persist(ctx, miss))

	hit := &turn{req: generalTurn("s1", "explain boiling point"), profile: general}
	outcome, err = e.svc.run(ctx, hit)
	require.NoError(t, err)
	assert.Equal(t, "hit", outcome)
	assert.Equal(t, []State{StateCheckCache, StateDone}, hit.visited)
	assert.Nil(t, hit.save)

	bypass := &turn{req: generalTurn("s1", "remove the first item"), profile: general}
	outcome, err = e.svc.run(ctx, bypass)
	require.NoError(t, err)
	assert.Equal(t, "bypass", outcome)
	assert.Equal(t, []State{StateCheckCache, StateRunAgent, StateSaveCache, StateDone}, bypass.visited)
	assert.Nil(t, bypass.save)
}

func TestNewServiceValidation(t *testing.T) {
	e := newTestEnv(t, nil)

	tests := []struct {
		name    string
		deps    Deps
		opts    Options
		wantErr string
	}{
		{name: "no store", deps: Deps{Profiles: e.profiles}, wantErr: "conversation store is required"},
		{name: "no profiles", deps: Deps{Store: e.store}, wantErr: "at least one profile"},
		{name: "too many iterations", deps: Deps{Store: e.store, Profiles: e.profiles}, opts: Options{MaxIterations: 11}, wantErr: "max iterations"},
		{name: "negative iterations", deps: Deps{Store: e.store, Profiles: e.profiles}, opts: Options{MaxIterations: -1}, wantErr: "max iterations"},
		{name: "duplicate profile", deps: Deps{Store: e.store, Profiles: []*Profile{e.profiles[0], e.profiles[0]}}, wantErr: "duplicate profile"},
		{name: "incomplete profile", deps: Deps{Store: e.store, Profiles: []*Profile{{Name: "bare"}}}, wantErr: "incomplete profile"},
		{name: "unknown default", deps: Deps{Store: e.store, Profiles: e.profiles}, opts: Options{DefaultProfile: "travel"}, wantErr: "unknown profile"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.deps, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	svc, err := NewService(Deps{Store: e.store, Profiles: e.profiles}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, svc.maxIterations)
	assert.Equal(t, DefaultPersistTimeout, svc.persistTimeout)
	p, err := svc.Profile("")
	require.NoError(t, err)
	assert.Equal(t, ProfileGeneral, p.Name)
	require.NoError(t, svc.Close())
}
