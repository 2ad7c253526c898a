package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miraihub/mirai-gateway/internal/logging"
)

func testGateway(t *testing.T, backendURL string) *Gateway {
	t.Helper()
	g := NewGateway(Config{
		BaseURL:     backendURL,
		MaxResults:  5,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		CacheTTL:    time.Hour,
	}, logging.New().WithComponent("search-test"))
	g.sleep = func(time.Duration) {} // no real backoff in tests
	return g
}

func resultsBody(results ...map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{"results": results})
	return body
}

func TestSearchSortsAndTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(resultsBody(
			map[string]any{"title": "low", "url": "http://a", "content": "aa", "engine": "bing", "score": 0.2},
			map[string]any{"title": "high", "url": "http://b", "content": "bb", "engine": "brave", "score": 0.9},
			map[string]any{"title": "mid", "url": "http://c", "content": "cc", "engine": "google", "score": 0.5},
		))
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	results := g.Search(context.Background(), "anything", 2)

	require.Len(t, results, 2)
	assert.Equal(t, "high", results[0].Title)
	assert.Equal(t, "mid", results[1].Title)
}

func TestSearchStripsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(resultsBody(
			map[string]any{"title": "t", "url": "u", "content": "<b>bold</b> &amp; <i>plain</i>", "engine": "brave", "score": 1.0},
		))
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	results := g.Search(context.Background(), "markup", 5)

	require.Len(t, results, 1)
	assert.Equal(t, "bold & plain", results[0].Content)
}

func TestSearchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write(resultsBody(map[string]any{"title": "ok", "url": "u", "content": "c", "engine": "brave", "score": 1.0}))
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	results := g.Search(context.Background(), "flaky", 5)

	require.Len(t, results, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSearchFallsBackToSecondEngineSet(t *testing.T) {
	var engineSets []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		engines := r.URL.Query().Get("engines")
		engineSets = append(engineSets, engines)
		if strings.Contains(engines, "google") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(resultsBody(map[string]any{"title": "wiki", "url": "u", "content": "c", "engine": "wikipedia", "score": 1.0}))
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	results := g.Search(context.Background(), "obscure", 5)

	require.Len(t, results, 1)
	assert.Equal(t, "wiki", results[0].Title)
	// Three failed primary attempts, then the fallback set.
	require.Len(t, engineSets, 4)
	assert.Contains(t, engineSets[3], "wikipedia")
}

func TestSearchAllAttemptsFailReturnsEmpty(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	results := g.Search(context.Background(), "xyzzy obscurequery123", 5)

	assert.Empty(t, results)
	// Primary and fallback sets each get the full attempt budget.
	assert.Equal(t, int32(6), calls.Load())

	// A failed search is not cached: the next call hits the backend again.
	g.Search(context.Background(), "xyzzy obscurequery123", 5)
	assert.Equal(t, int32(12), calls.Load())
}

func TestSearchEmptySuccessNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(resultsBody())
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	assert.Empty(t, g.Search(context.Background(), "nothing", 5))
	assert.Empty(t, g.Search(context.Background(), "nothing", 5))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchServesFromCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(resultsBody(map[string]any{"title": "cached", "url": "u", "content": "c", "engine": "brave", "score": 1.0}))
	}))
	defer srv.Close()

	g := testGateway(t, srv.URL)
	first := g.Search(context.Background(), "stable query", 5)
	second := g.Search(context.Background(), "stable query", 5)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())

	// A different result count is a different cache key.
	g.Search(context.Background(), "stable query", 3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCacheTTLBoundary(t *testing.T) {
	now := time.Now()
	cache := newResultCache(time.Hour, func() time.Time { return now })
	cache.put("q", 5, []Result{{Title: "t"}})

	now = now.Add(time.Hour - time.Second)
	_, ok := cache.get("q", 5)
	assert.True(t, ok, "entry should live until the TTL")

	now = now.Add(2 * time.Second)
	_, ok = cache.get("q", 5)
	assert.False(t, ok, "entry must not outlive the TTL")
}

func TestCacheSweep(t *testing.T) {
	now := time.Now()
	cache := newResultCache(time.Hour, func() time.Time { return now })
	cache.put("a", 5, []Result{{Title: "a"}})
	cache.put("b", 5, []Result{{Title: "b"}})

	now = now.Add(2 * time.Hour)
	cache.put("c", 5, []Result{{Title: "c"}})

	removed := cache.sweep()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, cache.len())
}

func TestCleanHTMLPlainTextUntouched(t *testing.T) {
	assert.Equal(t, "no markup here", CleanHTML("no markup here"))
}

func TestFormatForPromptEmpty(t *testing.T) {
	assert.Equal(t, "No relevant search results found.", FormatForPrompt(nil))
}

func TestFormatForPromptTruncatesSnippets(t *testing.T) {
	long := strings.Repeat("x", 400)
	text := FormatForPrompt([]Result{{Title: "t", URL: "u", Content: long}})

	assert.Contains(t, text, "1. t")
	assert.Contains(t, text, "...")
	assert.NotContains(t, text, long)
}
