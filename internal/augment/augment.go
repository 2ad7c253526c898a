// Package augment merges classification, web search and API module results
// into a single grounding block attached to a turn before generation.
package augment

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/miraihub/mirai-gateway/internal/classify"
	"github.com/miraihub/mirai-gateway/internal/search"
	"github.com/miraihub/mirai-gateway/internal/trigger"
)

// Provenance records where a turn's grounding context came from.
type Provenance string

const (
	ProvenanceNone      Provenance = "NONE"
	ProvenanceSearch    Provenance = "SEARCH"
	ProvenanceAPIModule Provenance = "API_MODULE"
)

// contextLimit caps the system text injected into the prompt.
const contextLimit = 2000

// Context is the grounding block produced for one turn.
type Context struct {
	Provenance     Provenance
	SystemText     string
	SearchTerms    string
	Classification *classify.Result
	ModuleResult   *trigger.ExecutionResult
}

// Searcher is the slice of the search gateway the augmenter needs.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) []search.Result
}

// ModuleExecutor runs a matched API module.
type ModuleExecutor interface {
	Execute(ctx context.Context, m *trigger.Module, vars map[string]string) *trigger.ExecutionResult
}

// Correction-style utterances continue the previous search topic instead of
// being reclassified from scratch.
var correctionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi\s+need\s+to\s+correct\s+you\b`),
	regexp.MustCompile(`(?i)\bthat'?s\s+not\s+correct\b`),
	regexp.MustCompile(`(?i)\bthat'?s\s+wrong\b`),
	regexp.MustCompile(`(?i)\byou'?re\s+incorrect\b`),
	regexp.MustCompile(`(?i)\bactually,`),
	regexp.MustCompile(`(?i)\bfactually,`),
}

// IsCorrection reports whether the utterance disputes the previous reply.
func IsCorrection(text string) bool {
	for _, p := range correctionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// TermStore remembers the last search terms used per conversation so
// follow-ups and corrections stay on topic.
type TermStore struct {
	mu    sync.Mutex
	terms map[string]string
}

// NewTermStore creates an empty TermStore.
func NewTermStore() *TermStore {
	return &TermStore{terms: make(map[string]string)}
}

// Get returns the previous search terms for a conversation, or "".
func (t *TermStore) Get(conversationID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terms[conversationID]
}

// Set records the search terms last used for a conversation.
func (t *TermStore) Set(conversationID, terms string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terms[conversationID] = terms
}

// Forget drops a conversation's remembered terms.
func (t *TermStore) Forget(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.terms, conversationID)
}

// Augmenter decides, per turn, whether and how to ground the reply.
type Augmenter struct {
	analyzer   *classify.Analyzer
	registry   *trigger.Registry
	executor   ModuleExecutor
	searcher   Searcher
	terms      *TermStore
	maxResults int
	logger     *slog.Logger
}

// NewAugmenter wires the augmentation pipeline.
func NewAugmenter(analyzer *classify.Analyzer, registry *trigger.Registry, executor ModuleExecutor, searcher Searcher, terms *TermStore, maxResults int, logger *slog.Logger) *Augmenter {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &Augmenter{
		analyzer:   analyzer,
		registry:   registry,
		executor:   executor,
		searcher:   searcher,
		terms:      terms,
		maxResults: maxResults,
		logger:     logger,
	}
}

// Augment produces the grounding context for one utterance. It degrades
// rather than fails: any path that cannot produce grounding returns
// ProvenanceNone and the turn proceeds ungrounded.
func (a *Augmenter) Augment(ctx context.Context, conversationID, text string) *Context {
	// An API module hit short-circuits everything else, search included.
	if match, ok := a.registry.FindMatch(text); ok {
		result := a.executor.Execute(ctx, match.Module, match.Variables)
		result.MatchedTrigger = match.Trigger
		if !result.Success {
			a.logger.Warn("api module failed, turn proceeds ungrounded",
				"conversation", conversationID, "module", match.Module.Name,
				"error", result.ErrorMessage)
			return &Context{Provenance: ProvenanceNone, ModuleResult: result}
		}
		return &Context{
			Provenance:   ProvenanceAPIModule,
			SystemText:   truncateContext(moduleSystemText(result)),
			ModuleResult: result,
		}
	}

	prevTerms := a.terms.Get(conversationID)

	// A correction with remembered terms stays on the same topic.
	if IsCorrection(text) && prevTerms != "" {
		terms := prevTerms + " correction"
		a.logger.Info("correction detected, reusing previous search topic",
			"conversation", conversationID, "terms", terms)
		return a.searchContext(ctx, conversationID, terms, nil)
	}

	analysis := a.analyzer.Analyze(text)
	if !analysis.IsTrivia {
		return &Context{Provenance: ProvenanceNone, Classification: &analysis}
	}

	terms := a.analyzer.ExtractSearchTermsFromResult(analysis, prevTerms)
	return a.searchContext(ctx, conversationID, terms, &analysis)
}

func (a *Augmenter) searchContext(ctx context.Context, conversationID, terms string, analysis *classify.Result) *Context {
	results := a.searcher.Search(ctx, terms, a.maxResults)
	if len(results) == 0 {
		a.logger.Info("search produced no results, turn proceeds ungrounded",
			"conversation", conversationID, "terms", terms)
		return &Context{Provenance: ProvenanceNone, SearchTerms: terms, Classification: analysis}
	}

	a.terms.Set(conversationID, terms)
	return &Context{
		Provenance:     ProvenanceSearch,
		SystemText:     truncateContext(search.FormatForPrompt(results)),
		SearchTerms:    terms,
		Classification: analysis,
	}
}

func moduleSystemText(result *trigger.ExecutionResult) string {
	body := result.FormattedResponse
	if body == "" {
		body = fmt.Sprintf("%v", result.RawResponse)
	}
	return fmt.Sprintf("Result from the %s module:\n%s", result.ModuleName, body)
}

func truncateContext(text string) string {
	if len(text) <= contextLimit {
		return text
	}
	return strings.TrimSpace(text[:contextLimit-3]) + "..."
}
