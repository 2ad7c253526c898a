package classify

import (
	"regexp"
	"strings"
)

// Discourse connectives that mark a query as a follow-up to the previous
// turn.
var followUpIndicators = map[string]bool{
	"though": true, "then": true, "still": true, "instead": true,
	"rather": true, "actually": true, "anyway": true, "btw": true,
	"but": true,
}

// Anaphoric references back to an earlier subject.
var contextReferences = map[string]bool{
	"it": true, "that": true, "this": true, "those": true, "these": true,
	"they": true, "them": true, "their": true,
}

var capitalizedWordRe = regexp.MustCompile(`\b[A-Z][a-zA-Z]*\b`)

// ExtractSearchTerms reduces a factual utterance to a compact search query.
// prevTerms carries forward the previous turn's search subject so follow-up
// questions stay on topic. General queries are returned unchanged.
func (a *Analyzer) ExtractSearchTerms(query, prevTerms string) string {
	analysis := a.Analyze(query)
	return a.extractWithAnalysis(analysis, query, prevTerms)
}

// ExtractSearchTermsFromResult is ExtractSearchTerms for callers that
// already hold an analysis of the query.
func (a *Analyzer) ExtractSearchTermsFromResult(analysis Result, prevTerms string) string {
	return a.extractWithAnalysis(analysis, analysis.Query, prevTerms)
}

func (a *Analyzer) extractWithAnalysis(analysis Result, query, prevTerms string) string {
	if analysis.QueryType != Trivia {
		a.logger.Debug("query is not factual, skipping search term extraction", "query", query)
		return query
	}

	clean := stripPrefixesPreservingCase(query)
	cleaned := strings.TrimSpace(strings.TrimRight(clean, "?"))

	if isFollowUp(cleaned) && prevTerms != "" {
		combined := prevTerms + " " + cleaned
		a.logger.Debug("combined search terms for follow-up question", "terms", combined)
		return combined
	}

	// Short queries get enriched with entity text, then capitalized words.
	if len(strings.Fields(cleaned)) < 2 && len(analysis.Entities) > 0 {
		var texts []string
		for _, e := range analysis.Entities {
			texts = append(texts, e.Text)
		}
		entityText := strings.Join(texts, " ")
		if cleaned != "" {
			cleaned = cleaned + " " + entityText
		} else {
			cleaned = entityText
		}
	}

	if len(strings.Fields(cleaned)) < 2 {
		if caps := capitalizedWordRe.FindAllString(query, -1); len(caps) > 0 {
			cleaned = strings.TrimSpace(cleaned + " " + strings.Join(caps, " "))
		}
	}

	if len(strings.Fields(cleaned)) >= 2 {
		return cleaned
	}

	// Last resort: whichever analysis artifact is non-empty first.
	switch {
	case len(analysis.Entities) > 0:
		var texts []string
		for _, e := range analysis.Entities {
			texts = append(texts, e.Text)
		}
		return strings.Join(texts, " ")
	case len(analysis.NounChunks) > 0:
		return strings.Join(analysis.NounChunks, " ")
	case len(analysis.ImportantNouns) > 0:
		return strings.Join(analysis.ImportantNouns, " ")
	default:
		return cleaned
	}
}

// isFollowUp reports whether the query leans on the previous turn through a
// discourse connective or an anaphoric reference.
func isFollowUp(cleaned string) bool {
	for _, w := range strings.Fields(strings.ToLower(cleaned)) {
		w = strings.Trim(w, "?.,!;:'\"")
		if followUpIndicators[w] || contextReferences[w] {
			return true
		}
	}
	return false
}

// stripPrefixesPreservingCase removes greeting prefixes but keeps the
// original casing, so capitalized-word enrichment still works.
func stripPrefixesPreservingCase(query string) string {
	clean := query
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
