// Package classify scores user utterances as factual lookups or ordinary
// conversation, and reduces factual utterances to compact search terms.
package classify

import (
	"log/slog"
	"regexp"
	"strings"
)

// QueryType labels the outcome of query analysis.
type QueryType string

const (
	// General queries are conversational or opinion-seeking; they are
	// answered without grounding.
	General QueryType = "general"
	// Trivia queries seek specific facts and are augmented with web search.
	Trivia QueryType = "trivia"
)

// Entity is a recognized span of interest inside an utterance.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// Result holds the full analysis of one utterance.
type Result struct {
	Query          string    `json:"query"`
	QueryType      QueryType `json:"query_type"`
	IsTrivia       bool      `json:"is_trivia"`
	Entities       []Entity  `json:"entities"`
	ImportantNouns []string  `json:"important_nouns"`
	NounChunks     []string  `json:"noun_chunks"`
	FactualScore   float64   `json:"factual_score"`
	OpinionScore   float64   `json:"opinion_score"`
}

// Question starters that suggest a factual lookup.
var questionStarters = []string{
	"who", "what", "when", "where", "which", "how many", "how much",
}

// Verbs that suggest the query is about a concrete past fact.
var factualVerbs = map[string]bool{
	"won": true, "invented": true, "discovered": true, "created": true,
	"founded": true, "built": true, "died": true, "born": true,
	"established": true, "located": true, "happened": true, "occurred": true,
	"began": true, "started": true, "ended": true, "awarded": true,
	"directed": true, "starred": true, "published": true, "released": true,
	"launched": true,
}

// Nouns that suggest the query is asking for a specific datum.
var factualNouns = map[string]bool{
	"year": true, "date": true, "time": true, "place": true, "location": true,
	"person": true, "name": true, "capital": true, "population": true,
	"height": true, "depth": true, "width": true, "distance": true,
	"temperature": true, "winner": true, "champion": true, "inventor": true,
	"author": true, "director": true, "president": true, "ceo": true,
	"founder": true, "leader": true, "creator": true, "city": true,
	"country": true, "record": true, "fact": true, "statistic": true,
	"percentage": true, "number": true, "amount": true, "score": true,
	"result": true, "medal": true, "prize": true, "award": true,
	"title": true, "championship": true, "tournament": true, "event": true,
}

// Words that indicate opinion-seeking, personal preference, or hypotheticals.
var opinionIndicators = []string{
	"favorite", "best", "worst", "better", "worse", "greatest", "least",
	"like", "love", "hate", "prefer", "recommend", "suggest", "advise",
	"think", "feel", "believe", "opinion", "thought", "perspective", "view",
	"imagine", "hypothetical", "pretend", "suppose", "consider", "if",
	"would", "should", "could", "might", "may", "ideal", "perfect",
	"optimal", "why do you", "how would you", "what do you think",
}

// Phrases that force a general classification regardless of scores.
var strongOpinionPhrases = []string{
	"your opinion", "you think", "what do you", "would you",
}

// Greeting and filler prefixes stripped before scoring. Applied repeatedly
// until none match, so cleanup is idempotent.
var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(hey|hi|hello|ok|okay|yo|greetings|excuse me|good morning|good afternoon|good evening)\s+\w+\s*,?\s*`),
	regexp.MustCompile(`(?i)^(jarvis|morgan|pepper|assistant|chatbot|bot|there)\s*,?\s*`),
	regexp.MustCompile(`(?i)^(could you|can you|please|kindly|i want to|i'd like to|tell me|let me know)\s+`),
	regexp.MustCompile(`(?i)^(what about|how about|what if|by the way|anyway)\s+`),
}

var (
	secondPersonRe = regexp.MustCompile(`\byou\b|\byour\b`)
	wordRe         = regexp.MustCompile(`[A-Za-z0-9']+`)
	capitalizedRe  = regexp.MustCompile(`^[A-Z][a-zA-Z]*$`)
	yearRe         = regexp.MustCompile(`^(1[0-9]{3}|20[0-9]{2})$`)
	numberRe       = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)
	moneyRe        = regexp.MustCompile(`^\$[0-9][0-9,\.]*$`)
	percentRe      = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?%$`)
)

// Stopwords excluded from noun extraction and proper-noun detection.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "am": true,
	"do": true, "does": true, "did": true, "have": true, "has": true,
	"had": true, "will": true, "would": true, "shall": true, "should": true,
	"can": true, "could": true, "may": true, "might": true, "must": true,
	"i": true, "me": true, "my": true, "mine": true, "we": true, "us": true,
	"our": true, "you": true, "your": true, "yours": true, "he": true,
	"him": true, "his": true, "she": true, "her": true, "hers": true,
	"it": true, "its": true, "they": true, "them": true, "their": true,
	"this": true, "that": true, "these": true, "those": true, "what": true,
	"which": true, "who": true, "whom": true, "whose": true, "when": true,
	"where": true, "why": true, "how": true, "and": true, "or": true,
	"but": true, "not": true, "no": true, "nor": true, "so": true,
	"if": true, "then": true, "than": true, "too": true, "very": true,
	"just": true, "about": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "from": true,
	"by": true, "as": true, "into": true, "over": true, "under": true,
	"again": true, "there": true, "here": true, "up": true, "down": true,
	"out": true, "off": true, "any": true, "all": true, "some": true,
	"such": true, "own": true, "same": true, "more": true, "most": true,
	"other": true, "each": true, "few": true, "both": true, "many": true,
	"much": true, "please": true, "tell": true, "hey": true, "hi": true,
	"hello": true, "okay": true, "ok": true,
}

// Entity labels that carry weight in the factual score.
var importantEntityLabels = map[string]bool{
	"PROPER": true, "DATE": true, "CARDINAL": true,
	"MONEY": true, "PERCENT": true, "QUANTITY": true,
}

// Analyzer classifies utterances. It is stateless and safe for concurrent
// use; analysis is a pure function of its arguments.
type Analyzer struct {
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// CleanQuery lowercases the utterance and strips greeting/politeness
// prefixes until no pattern matches.
func CleanQuery(query string) string {
	clean := strings.ToLower(query)
	for {
		stripped := clean
		for _, pattern := range greetingPatterns {
			stripped = pattern.ReplaceAllString(stripped, "")
		}
		if stripped == clean {
			break
		}
		clean = stripped
	}
	return strings.TrimSpace(clean)
}

// Analyze scores an utterance and decides whether it is a factual (trivia)
// query or a general conversational one. It never returns an error: any
// internal failure yields a zero-score general result.
func (a *Analyzer) Analyze(query string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("query analysis failed, falling back to general", "panic", r, "query", query)
			result = Result{Query: query, QueryType: General}
		}
	}()

	clean := CleanQuery(query)
	entities := extractEntities(query)
	nouns, verbs, chunks := extractTokens(clean)

	var factualEntities []Entity
	for _, e := range entities {
		if importantEntityLabels[e.Label] {
			factualEntities = append(factualEntities, e)
		}
	}

	factual := 0.0
	for _, starter := range questionStarters {
		if strings.HasPrefix(clean, starter+" ") {
			factual += 2
			break
		}
	}
	for _, v := range verbs {
		if factualVerbs[v] {
			factual += 1.5
		}
	}
	for _, n := range nouns {
		if factualNouns[n] {
			factual += 1
		}
	}
	factual += float64(len(factualEntities)) * 1.5
	if strings.Contains(query, "?") {
		factual += 1
	}

	opinion := 0.0
	for _, indicator := range opinionIndicators {
		if containsWord(clean, indicator) {
			opinion += 2
		}
	}
	if secondPersonRe.MatchString(clean) {
		opinion += 1
	}

	if len(strings.Fields(clean)) < 8 && factual > 0 {
		factual += 1
	}
	if strings.HasPrefix(clean, "why ") || strings.Contains(clean, "explain") || strings.Contains(clean, "describe") {
		opinion += 1.5
	}

	isTrivia := factual > opinion && factual >= 2

	for _, phrase := range strongOpinionPhrases {
		if strings.Contains(clean, phrase) {
			isTrivia = false
			break
		}
	}

	if len(factualEntities) >= 2 && strings.Contains(query, "?") &&
		!strings.Contains(clean, "your") && !strings.Contains(clean, "you think") {
		isTrivia = true
	}

	queryType := General
	if isTrivia {
		queryType = Trivia
	}

	a.logger.Debug("query analyzed",
		"query_type", queryType,
		"factual_score", factual,
		"opinion_score", opinion,
		"entities", len(entities))

	return Result{
		Query:          query,
		QueryType:      queryType,
		IsTrivia:       isTrivia,
		Entities:       entities,
		ImportantNouns: nouns,
		NounChunks:     chunks,
		FactualScore:   factual,
		OpinionScore:   opinion,
	}
}

// containsWord reports whether the phrase occurs in text on word boundaries.
// Multi-word indicators fall back to substring containment.
func containsWord(text, phrase string) bool {
	if strings.Contains(phrase, " ") {
		return strings.Contains(text, phrase)
	}
	for _, w := range strings.Fields(text) {
		if strings.Trim(w, "?.,!;:'\"") == phrase {
			return true
		}
	}
	return false
}

// extractEntities finds proper nouns, dates, quantities, money and percent
// spans in the raw (case-preserved) utterance.
func extractEntities(query string) []Entity {
	var entities []Entity
	for _, loc := range wordRe.FindAllStringIndex(query, -1) {
		token := query[loc[0]:loc[1]]
		label := ""
		switch {
		case yearRe.MatchString(token):
			label = "DATE"
		case numberRe.MatchString(token):
			label = "CARDINAL"
		case capitalizedRe.MatchString(token) && !stopwords[strings.ToLower(token)]:
			label = "PROPER"
		}
		if label == "" {
			continue
		}
		entities = append(entities, Entity{Text: token, Label: label, Start: loc[0], End: loc[1]})
	}

	// Money and percent tokens carry punctuation the word regex drops.
	for _, raw := range strings.Fields(query) {
		trimmed := strings.Trim(raw, ".,!?;:")
		if moneyRe.MatchString(trimmed) {
			start := strings.Index(query, trimmed)
			entities = append(entities, Entity{Text: trimmed, Label: "MONEY", Start: start, End: start + len(trimmed)})
		} else if percentRe.MatchString(trimmed) {
			start := strings.Index(query, trimmed)
			entities = append(entities, Entity{Text: trimmed, Label: "PERCENT", Start: start, End: start + len(trimmed)})
		}
	}

	entities = mergeAdjacentProper(entities)
	return entities
}

// mergeAdjacentProper collapses runs of adjacent proper-noun tokens
// ("New York City") into a single entity span.
func mergeAdjacentProper(entities []Entity) []Entity {
	var merged []Entity
	for _, e := range entities {
		n := len(merged)
		if n > 0 && e.Label == "PROPER" && merged[n-1].Label == "PROPER" && e.Start <= merged[n-1].End+1 {
			merged[n-1].Text = merged[n-1].Text + " " + e.Text
			merged[n-1].End = e.End
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

// extractTokens pulls candidate nouns, verbs, and noun chunks from the
// cleaned query. Verbs are recognized through the factual-verb lexicon;
// every other non-stopword token is treated as a candidate noun.
func extractTokens(clean string) (nouns, verbs, chunks []string) {
	tokens := wordRe.FindAllString(clean, -1)
	var chunk []string
	flush := func() {
		if len(chunk) > 0 {
			chunks = append(chunks, strings.Join(chunk, " "))
			chunk = nil
		}
	}
	for _, token := range tokens {
		if stopwords[token] {
			flush()
			continue
		}
		if factualVerbs[token] {
			verbs = append(verbs, token)
			flush()
			continue
		}
		nouns = append(nouns, token)
		chunk = append(chunk, token)
	}
	flush()
	return nouns, verbs, chunks
}
