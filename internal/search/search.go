// Package search implements a federated web search gateway over a
// SearXNG-compatible backend, with retry, engine-set fallback, and a
// time-bounded result cache.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/miraihub/mirai-gateway/internal/metrics"
)

// Result is a single processed search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Engine  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Config configures the gateway.
type Config struct {
	BaseURL         string
	MaxResults      int
	Timeout         time.Duration
	MaxAttempts     int
	Backoff         time.Duration
	CacheTTL        time.Duration
	Engines         []string
	FallbackEngines []string
	Categories      []string
}

// Gateway executes web searches. It never surfaces an error to callers:
// exhausted retries yield an empty result set so the turn can proceed
// ungrounded.
type Gateway struct {
	cfg    Config
	client *http.Client
	cache  *resultCache
	logger *slog.Logger
	sleep  func(time.Duration)
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Engine  string  `json:"engine"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// NewGateway creates a Gateway.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if len(cfg.Engines) == 0 {
		cfg.Engines = []string{"brave", "google", "bing", "duckduckgo", "yahoo", "qwant"}
	}
	if len(cfg.FallbackEngines) == 0 {
		cfg.FallbackEngines = []string{"wikipedia", "qwant", "brave", "duckduckgo"}
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = []string{"general", "news"}
	}

	return &Gateway{
		cfg:    cfg,
		client: &http.Client{},
		cache:  newResultCache(cfg.CacheTTL, time.Now),
		logger: logger,
		sleep:  time.Sleep,
	}
}

// Search performs a web search for the query, returning at most maxResults
// hits sorted by relevance. Results are served from the cache when a fresh
// entry exists. Failures degrade to an empty set.
func (g *Gateway) Search(ctx context.Context, query string, maxResults int) []Result {
	if maxResults <= 0 {
		maxResults = g.cfg.MaxResults
	}

	if cached, ok := g.cache.get(query, maxResults); ok {
		metrics.SearchCacheHits.Inc()
		g.logger.Debug("search cache hit", "query", query)
		return cached
	}

	results := g.searchWithRetry(ctx, query, maxResults, g.cfg.Engines)
	if results == nil {
		g.logger.Warn("primary engine set exhausted, trying fallback", "query", query)
		results = g.searchWithRetry(ctx, query, maxResults, g.cfg.FallbackEngines)
	}

	if results == nil {
		metrics.SearchRequests.WithLabelValues("failure").Inc()
		g.logger.Error("all search attempts failed", "query", query)
		return nil
	}

	if len(results) == 0 {
		metrics.SearchRequests.WithLabelValues("empty").Inc()
		g.logger.Warn("search returned no results", "query", query)
		return nil
	}

	metrics.SearchRequests.WithLabelValues("success").Inc()
	// Only non-empty sets are cached, so a transient outage is retried on
	// the next call instead of sticking for the full TTL.
	g.cache.put(query, maxResults, results)
	return results
}

// searchWithRetry runs the bounded retry loop against one engine set.
// A nil return means every attempt failed; an empty non-nil slice means the
// backend answered with no hits.
func (g *Gateway) searchWithRetry(ctx context.Context, query string, maxResults int, engines []string) []Result {
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		results, err := g.searchOnce(ctx, query, maxResults, engines)
		if err == nil {
			return results
		}
		g.logger.Warn("search attempt failed",
			"query", query,
			"attempt", attempt,
			"engines", strings.Join(engines, ","),
			"error", err)
		if attempt < g.cfg.MaxAttempts {
			g.sleep(time.Duration(attempt) * g.cfg.Backoff)
		}
	}
	return nil
}

func (g *Gateway) searchOnce(ctx context.Context, query string, maxResults int, engines []string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("categories", strings.Join(g.cfg.Categories, ","))
	params.Set("engines", strings.Join(engines, ","))
	params.Set("num_results", fmt.Sprintf("%d", maxResults*3))
	params.Set("time_range", "year")
	params.Set("language", "en")
	params.Set("safesearch", "0")

	reqURL := fmt.Sprintf("%s/search?%s", strings.TrimRight(g.cfg.BaseURL, "/"), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Result, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Content: CleanHTML(r.Content),
			Engine:  r.Engine,
			Score:   r.Score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	return results, nil
}

// SweepCache drops expired cache entries. Called periodically by the
// scheduler.
func (g *Gateway) SweepCache() int {
	removed := g.cache.sweep()
	if removed > 0 {
		g.logger.Debug("swept expired search cache entries", "removed", removed)
	}
	return removed
}

// CacheLen reports the number of live cache entries.
func (g *Gateway) CacheLen() int {
	return g.cache.len()
}
