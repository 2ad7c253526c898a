package search

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// CleanHTML strips markup from a search result snippet, leaving plain text
// with collapsed whitespace.
func CleanHTML(content string) string {
	if !tagRe.MatchString(content) {
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		// Fallback: strip tags with a regex.
		text := tagRe.ReplaceAllString(content, " ")
		text = html.UnescapeString(text)
		return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	}

	text := doc.Text()
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

// snippetLimit caps each result snippet when formatted for prompting.
const snippetLimit = 300

// FormatForPrompt renders a result set as the factual grounding block
// injected into the generation prompt.
func FormatForPrompt(results []Result) string {
	if len(results) == 0 {
		return "No relevant search results found."
	}

	var b strings.Builder
	b.WriteString("Search Results:\n\n")

	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "   URL: %s\n", r.URL)
		if r.Content != "" {
			content := r.Content
			if len(content) > snippetLimit {
				content = content[:snippetLimit-3] + "..."
			}
			fmt.Fprintf(&b, "   Summary: %s\n", content)
		}
		b.WriteString("\n")
	}

	return b.String()
}
