package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneralClassify(t *testing.T) {
	t.Parallel()

	table := General()
	tests := []struct {
		query string
		topic string
		ttl   time.Duration
	}{
		{"weather in Paris", TopicWeather, time.Hour},
		{"What's the TEMPERATURE outside?", TopicWeather, time.Hour},
		{"AAPL stock price", TopicStocks, 5 * time.Minute},
		{"how did the NASDAQ close", TopicStocks, 5 * time.Minute},
		{"S&P 500 level", TopicStocks, 5 * time.Minute},
		{"breaking headlines", TopicNews, 10 * time.Minute},
		{"current time in Tokyo", TopicCurrentTime, 2 * time.Minute},
		{"explain photosynthesis", TopicStaticKnowledge, 24 * time.Hour},
		{"hello there", TopicStaticKnowledge, 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			t.Parallel()
			p := table.Classify(tt.query)
			assert.Equal(t, tt.topic, p.Topic)
			assert.Equal(t, tt.ttl, p.TTL)
		})
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	t.Parallel()

	table := General()
	// Matches weather, news ("today") and static knowledge ("explain").
	p := table.Classify("explain today's weather forecast")
	assert.Equal(t, TopicWeather, p.Topic)
	assert.Equal(t, int64(3_600_000), p.TTLMillis())
}

func TestClassifyIsPure(t *testing.T) {
	t.Parallel()

	table := General()
	first := table.Classify("stock news today")
	for range 50 {
		if diff := cmp.Diff(first, table.Classify("stock news today")); diff != "" {
			t.Fatalf("classification changed (-first +got):\n%s", diff)
		}
	}
}

func TestGroceryPriceBeatsRecipe(t *testing.T) {
	t.Parallel()

	table := Grocery()
	assert.Equal(t, TopicPrice, table.Classify("cheap ingredients for biryani").Topic)
	assert.Equal(t, TopicRecipe, table.Classify("ingredients for butter chicken").Topic)
	assert.Equal(t, TopicGroceries, table.Classify("show me paneer").Topic)
	assert.Equal(t, 6*time.Hour, table.Fallback().TTL)
}

func TestNewTableValidation(t *testing.T) {
	t.Parallel()

	_, err := NewTable([]Policy{{Topic: "a", TTL: time.Minute}})
	require.ErrorIs(t, err, ErrNoFallback)

	_, err = NewTable([]Policy{
		{Topic: "a", TTL: time.Minute, Fallback: true},
		{Topic: "b", TTL: time.Minute, Fallback: true},
	})
	require.ErrorIs(t, err, ErrMultipleFallbacks)

	_, err = NewTable([]Policy{{Topic: "a", Fallback: true}})
	require.Error(t, err)
}

func TestSkipCaching(t *testing.T) {
	t.Parallel()

	assert.True(t, SkipCaching("Add to cart 3 onions"))
	assert.True(t, SkipCaching("show my CART"))
	assert.True(t, SkipCaching("remove the milk"))
	assert.False(t, SkipCaching("weather in Paris"))
}

func TestLoadFileYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  - topic: sports
    keywords: [Score, match]
    ttl: 15m
  - topic: default
    ttl: 12h
    fallback: true
`), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sports", table.Classify("final score?").Topic)
	assert.Equal(t, 15*time.Minute, table.Classify("MATCH report").TTL)
	assert.Equal(t, "default", table.Classify("anything").Topic)
}

func TestLoadFileTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "policy.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[policies]]
topic = "weather"
keywords = ["rain"]
ttl = "30m"

[[policies]]
topic = "rest"
ttl = "1h"
fallback = true
`), 0o600))

	table, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "weather", table.Classify("will it rain").Topic)
	assert.Equal(t, time.Hour, table.Classify("hi").TTL)
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	data, err := Marshal(General())
	require.NoError(t, err)

	table, err := Parse(data, "yaml")
	require.NoError(t, err)
	if diff := cmp.Diff(General().Policies(), table.Policies()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseUnsupportedFormat(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("{}"), "ini")
	require.Error(t, err)
}
