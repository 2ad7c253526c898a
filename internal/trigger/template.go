// Package trigger matches utterances against user-authored API module
// trigger phrases and executes the matching module.
package trigger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// compiledTemplate is the matcher compiled from one raw trigger phrase.
// Phrases without placeholders match by substring containment; phrases with
// placeholders compile to an anchored case-insensitive pattern with one
// named capture per placeholder.
type compiledTemplate struct {
	raw          string
	placeholders []string
	pattern      *regexp.Regexp // nil for substring triggers
}

// templateCache memoizes compilation per raw phrase so patterns are never
// recompiled per match attempt. Read-mostly.
type templateCache struct {
	mu        sync.RWMutex
	compiled  map[string]*compiledTemplate
	failed    map[string]error
}

func newTemplateCache() *templateCache {
	return &templateCache{
		compiled: make(map[string]*compiledTemplate),
		failed:   make(map[string]error),
	}
}

// get returns the compiled form of the phrase, compiling it on first use.
// Compilation failures are memoized as well.
func (c *templateCache) get(phrase string) (*compiledTemplate, error) {
	c.mu.RLock()
	if tpl, ok := c.compiled[phrase]; ok {
		c.mu.RUnlock()
		return tpl, nil
	}
	if err, ok := c.failed[phrase]; ok {
		c.mu.RUnlock()
		return nil, err
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if tpl, ok := c.compiled[phrase]; ok {
		return tpl, nil
	}
	if err, ok := c.failed[phrase]; ok {
		return nil, err
	}

	tpl, err := compileTemplate(phrase)
	if err != nil {
		c.failed[phrase] = err
		return nil, err
	}
	c.compiled[phrase] = tpl
	return tpl, nil
}

// Placeholders extracts the placeholder names from a trigger phrase in
// order of appearance.
func Placeholders(phrase string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(phrase, -1) {
		names = append(names, m[1])
	}
	return names
}

func compileTemplate(phrase string) (*compiledTemplate, error) {
	names := Placeholders(phrase)
	if len(names) == 0 {
		return &compiledTemplate{raw: phrase}, nil
	}

	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("duplicate placeholder %q in trigger %q", name, phrase)
		}
		seen[name] = true
	}

	pattern := regexp.QuoteMeta(phrase)
	for _, name := range names {
		escaped := regexp.QuoteMeta("{" + name + "}")
		pattern = strings.Replace(pattern, escaped, `(?P<`+name+`>[\w\s\-.,]+)`, 1)
	}

	re, err := regexp.Compile(`(?i)^` + pattern + `$`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile trigger %q: %w", phrase, err)
	}

	return &compiledTemplate{raw: phrase, placeholders: names, pattern: re}, nil
}

// match attempts the template against the full utterance. Extracted
// variables are returned with surrounding whitespace trimmed.
func (t *compiledTemplate) match(query string) (map[string]string, bool) {
	if t.pattern == nil {
		if strings.Contains(strings.ToLower(query), strings.ToLower(t.raw)) {
			return map[string]string{}, true
		}
		return nil, false
	}

	m := t.pattern.FindStringSubmatch(query)
	if m == nil {
		return nil, false
	}

	vars := make(map[string]string, len(t.placeholders))
	for i, name := range t.pattern.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		vars[name] = strings.TrimSpace(m[i])
	}
	return vars, true
}
