package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miraihub/mirai-gateway/internal/logging"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(logging.New().WithComponent("classify-test"))
}

func TestAnalyzeCapitalQuestion(t *testing.T) {
	a := newTestAnalyzer()
	result := a.Analyze("What is the capital of France?")

	assert.Equal(t, Trivia, result.QueryType)
	assert.True(t, result.IsTrivia)
	assert.GreaterOrEqual(t, result.FactualScore, 2.0)
}

func TestAnalyzeStrongOpinionOverride(t *testing.T) {
	a := newTestAnalyzer()
	result := a.Analyze("What do you think of this song?")

	// The leading "what" earns a factual bonus but the strong-opinion
	// phrase forces a general classification.
	assert.Equal(t, General, result.QueryType)
	assert.False(t, result.IsTrivia)
}

func TestAnalyzeConversational(t *testing.T) {
	a := newTestAnalyzer()
	result := a.Analyze("I love rainy days, don't you?")

	assert.Equal(t, General, result.QueryType)
}

func TestAnalyzeEntityOverride(t *testing.T) {
	a := newTestAnalyzer()
	result := a.Analyze("Did Marie Curie meet Albert Einstein in 1911?")

	// Two or more important entities plus a question mark with no
	// second-person token forces trivia.
	assert.Equal(t, Trivia, result.QueryType)
	assert.GreaterOrEqual(t, len(result.Entities), 2)
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := newTestAnalyzer()
	first := a.Analyze("Who won the World Cup in 2022?")
	second := a.Analyze("Who won the World Cup in 2022?")

	assert.Equal(t, first, second)
}

func TestAnalyzeFactualVerbs(t *testing.T) {
	a := newTestAnalyzer()
	result := a.Analyze("Who invented the telephone?")

	require.Equal(t, Trivia, result.QueryType)
	assert.GreaterOrEqual(t, result.FactualScore, 3.5)
}

func TestCleanQueryStripsGreeting(t *testing.T) {
	clean := CleanQuery("Hey Jarvis, what is the tallest mountain?")
	assert.Equal(t, "what is the tallest mountain?", clean)
}

func TestCleanQueryIdempotent(t *testing.T) {
	queries := []string{
		"Hey Jarvis, could you tell me who won the race?",
		"please tell me the time",
		"what is the capital of France?",
	}
	for _, q := range queries {
		once := CleanQuery(q)
		twice := CleanQuery(once)
		assert.Equal(t, once, twice, "cleanup not idempotent for %q", q)
	}
}

func TestCleanQueryStacksPrefixes(t *testing.T) {
	// Multiple prefixes are peeled off across passes.
	clean := CleanQuery("Hey Jarvis, could you tell me the capital of Spain?")
	assert.Equal(t, "the capital of spain?", clean)
}

func TestExtractEntitiesMergesProperRuns(t *testing.T) {
	entities := extractEntities("Where is the Golden Gate Bridge?")

	require.Len(t, entities, 1)
	assert.Equal(t, "Golden Gate Bridge", entities[0].Text)
	assert.Equal(t, "PROPER", entities[0].Label)
}

func TestExtractEntitiesYear(t *testing.T) {
	entities := extractEntities("what happened in 1969")

	require.Len(t, entities, 1)
	assert.Equal(t, "DATE", entities[0].Label)
	assert.Equal(t, "1969", entities[0].Text)
}

func TestExtractSearchTermsGeneralShortCircuits(t *testing.T) {
	a := newTestAnalyzer()
	query := "What do you think about jazz?"
	terms := a.ExtractSearchTerms(query, "")

	assert.Equal(t, query, terms)
}

func TestExtractSearchTermsFollowUp(t *testing.T) {
	a := newTestAnalyzer()
	terms := a.ExtractSearchTerms("When did it sink though?", "titanic")

	assert.Equal(t, "titanic When did it sink though", terms)
}

func TestExtractSearchTermsNoFollowUpWithoutPrev(t *testing.T) {
	a := newTestAnalyzer()
	terms := a.ExtractSearchTerms("When did it sink though?", "")

	assert.Equal(t, "When did it sink though", terms)
}

func TestExtractSearchTermsStripsGreetingAndQuestionMark(t *testing.T) {
	a := newTestAnalyzer()
	terms := a.ExtractSearchTerms("Hey Jarvis, who won the Monaco Grand Prix?", "")

	assert.Equal(t, "who won the Monaco Grand Prix", terms)
}

func TestExtractSearchTermsKeepsFullQuery(t *testing.T) {
	a := newTestAnalyzer()
	terms := a.ExtractSearchTerms("Who discovered penicillin?", "")

	assert.Equal(t, "Who discovered penicillin", terms)
}
