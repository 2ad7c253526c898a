package augment

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miraihub/mirai-gateway/internal/classify"
	"github.com/miraihub/mirai-gateway/internal/logging"
	"github.com/miraihub/mirai-gateway/internal/search"
	"github.com/miraihub/mirai-gateway/internal/trigger"
)

// fakeSearcher returns canned results and records queries.
type fakeSearcher struct {
	results []search.Result
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) []search.Result {
	f.queries = append(f.queries, query)
	return f.results
}

// fakeExecutor returns a canned execution result.
type fakeExecutor struct {
	result *trigger.ExecutionResult
	called bool
}

func (f *fakeExecutor) Execute(_ context.Context, m *trigger.Module, _ map[string]string) *trigger.ExecutionResult {
	f.called = true
	f.result.ModuleUID = m.UID
	f.result.ModuleName = m.Name
	return f.result
}

func newTestAugmenter(t *testing.T, searcher Searcher, executor ModuleExecutor, modules ...*trigger.Module) (*Augmenter, *TermStore) {
	t.Helper()
	logger := logging.New().WithComponent("augment-test")
	registry := trigger.NewRegistry(logger)
	for _, m := range modules {
		registry.Register(m)
	}
	terms := NewTermStore()
	a := NewAugmenter(classify.NewAnalyzer(logger), registry, executor, searcher, terms, 5, logger)
	return a, terms
}

func someResults() []search.Result {
	return []search.Result{
		{Title: "Paris", URL: "https://en.wikipedia.org/wiki/Paris", Content: "Paris is the capital of France.", Score: 1.0},
	}
}

func TestGeneralQueryReturnsNone(t *testing.T) {
	searcher := &fakeSearcher{results: someResults()}
	a, _ := newTestAugmenter(t, searcher, &fakeExecutor{})

	got := a.Augment(context.Background(), "c1", "What do you think of this song?")

	assert.Equal(t, ProvenanceNone, got.Provenance)
	assert.Empty(t, got.SystemText)
	assert.Empty(t, searcher.queries, "general queries must not hit search")
}

func TestTriviaQuerySearchesAndRemembersTerms(t *testing.T) {
	searcher := &fakeSearcher{results: someResults()}
	a, terms := newTestAugmenter(t, searcher, &fakeExecutor{})

	got := a.Augment(context.Background(), "c1", "What is the capital of France?")

	require.Equal(t, ProvenanceSearch, got.Provenance)
	assert.Contains(t, got.SystemText, "Paris")
	assert.NotEmpty(t, got.SearchTerms)
	assert.Equal(t, got.SearchTerms, terms.Get("c1"))
}

func TestEmptySearchDegradesToNone(t *testing.T) {
	searcher := &fakeSearcher{}
	a, terms := newTestAugmenter(t, searcher, &fakeExecutor{})

	got := a.Augment(context.Background(), "c1", "What is the capital of France?")

	assert.Equal(t, ProvenanceNone, got.Provenance)
	assert.Len(t, searcher.queries, 1)
	assert.Empty(t, terms.Get("c1"), "failed searches must not pollute the topic memory")
}

func TestModuleMatchShortCircuitsSearch(t *testing.T) {
	searcher := &fakeSearcher{results: someResults()}
	executor := &fakeExecutor{result: &trigger.ExecutionResult{
		Success:           true,
		FormattedResponse: "It is cloudy, 14 degrees.",
	}}
	a, _ := newTestAugmenter(t, searcher, executor, &trigger.Module{
		UID:            "m1",
		Name:           "weather",
		TriggerPhrases: []string{"weather in {city}"},
		Active:         true,
	})

	got := a.Augment(context.Background(), "c1", "weather in Dublin")

	require.Equal(t, ProvenanceAPIModule, got.Provenance)
	assert.True(t, executor.called)
	assert.Contains(t, got.SystemText, "weather module")
	assert.Contains(t, got.SystemText, "cloudy")
	assert.Equal(t, "weather in {city}", got.ModuleResult.MatchedTrigger)
	assert.Empty(t, searcher.queries, "module hits skip search entirely")
}

func TestFailedModuleDegradesToNone(t *testing.T) {
	searcher := &fakeSearcher{results: someResults()}
	executor := &fakeExecutor{result: &trigger.ExecutionResult{
		Success:      false,
		ErrorMessage: "module returned status 500",
	}}
	a, _ := newTestAugmenter(t, searcher, executor, &trigger.Module{
		UID:            "m1",
		Name:           "weather",
		TriggerPhrases: []string{"weather in {city}"},
		Active:         true,
	})

	got := a.Augment(context.Background(), "c1", "weather in Dublin")

	assert.Equal(t, ProvenanceNone, got.Provenance)
	assert.Empty(t, got.SystemText)
	require.NotNil(t, got.ModuleResult)
	assert.False(t, got.ModuleResult.Success)
	assert.Empty(t, searcher.queries)
}

func TestCorrectionReusesPreviousTopic(t *testing.T) {
	searcher := &fakeSearcher{results: someResults()}
	a, terms := newTestAugmenter(t, searcher, &fakeExecutor{})
	terms.Set("c1", "titanic sinking date")

	got := a.Augment(context.Background(), "c1", "That's not correct, check again")

	require.Equal(t, ProvenanceSearch, got.Provenance)
	require.Len(t, searcher.queries, 1)
	assert.Equal(t, "titanic sinking date correction", searcher.queries[0])
	assert.Nil(t, got.Classification, "corrections skip reclassification")
}

func TestCorrectionWithoutHistoryClassifiesNormally(t *testing.T) {
	searcher := &fakeSearcher{results: someResults()}
	a, _ := newTestAugmenter(t, searcher, &fakeExecutor{})

	// No remembered terms: the correction phrasing alone reads as
	// conversational and the turn stays ungrounded.
	got := a.Augment(context.Background(), "c1", "That's not correct")

	assert.Equal(t, ProvenanceNone, got.Provenance)
	assert.Empty(t, searcher.queries)
}

func TestIsCorrection(t *testing.T) {
	assert.True(t, IsCorrection("I need to correct you about that"))
	assert.True(t, IsCorrection("that's wrong"))
	assert.True(t, IsCorrection("Actually, it was 1912"))
	assert.True(t, IsCorrection("you're incorrect"))
	assert.False(t, IsCorrection("what is the capital of France?"))
	assert.False(t, IsCorrection("actual results may vary"))
}

func TestSystemTextTruncatedAtLimit(t *testing.T) {
	long := strings.Repeat("x", 3000)
	searcher := &fakeSearcher{results: []search.Result{{Title: "big", URL: "https://example.com", Content: long}}}
	a, _ := newTestAugmenter(t, searcher, &fakeExecutor{})

	got := a.Augment(context.Background(), "c1", "What is the capital of France?")

	require.Equal(t, ProvenanceSearch, got.Provenance)
	assert.LessOrEqual(t, len(got.SystemText), contextLimit)
	assert.True(t, strings.HasSuffix(got.SystemText, "..."))
}

func TestConversationsKeepSeparateTopics(t *testing.T) {
	terms := NewTermStore()
	terms.Set("c1", "apollo 11")
	terms.Set("c2", "titanic")

	assert.Equal(t, "apollo 11", terms.Get("c1"))
	assert.Equal(t, "titanic", terms.Get("c2"))

	terms.Forget("c1")
	assert.Empty(t, terms.Get("c1"))
	assert.Equal(t, "titanic", terms.Get("c2"))
}
