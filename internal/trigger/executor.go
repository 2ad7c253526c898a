package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ExecutionResult captures one API module invocation.
type ExecutionResult struct {
	ModuleUID         string         `json:"module_uid"`
	ModuleName        string         `json:"module_name"`
	MatchedTrigger    string         `json:"matched_trigger"`
	RawResponse       map[string]any `json:"raw_response"`
	FormattedResponse string         `json:"formatted_response,omitempty"`
	Duration          time.Duration  `json:"-"`
	Success           bool           `json:"success"`
	ErrorMessage      string         `json:"error_message,omitempty"`
}

// Executor performs the HTTP call a matched module describes.
type Executor struct {
	client *http.Client
	logger *slog.Logger
}

// NewExecutor creates an Executor with a bounded HTTP client.
func NewExecutor(timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Execute runs the module with the variables extracted from its trigger.
// Failures are reported in the result, not returned as errors: a failed
// module execution yields Success=false and the turn decides how to
// degrade.
func (e *Executor) Execute(ctx context.Context, m *Module, vars map[string]string) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{
		ModuleUID:  m.UID,
		ModuleName: m.Name,
	}

	raw, err := e.call(ctx, m, vars)
	result.Duration = time.Since(start)
	if err != nil {
		e.logger.Error("api module execution failed", "module", m.Name, "error", err)
		result.RawResponse = map[string]any{}
		result.ErrorMessage = err.Error()
		return result
	}

	result.RawResponse = raw
	result.Success = true

	if m.ResultTemplate != "" {
		formatted, err := formatResult(m.ResultTemplate, raw)
		if err != nil {
			e.logger.Error("failed to format api module response", "module", m.Name, "error", err)
			formatted = fmt.Sprintf("API call succeeded but result could not be formatted. Raw data: %v", raw)
		}
		result.FormattedResponse = formatted
	}

	return result
}

func (e *Executor) call(ctx context.Context, m *Module, vars map[string]string) (map[string]any, error) {
	query := url.Values{}
	for _, p := range m.Params {
		switch p.Type {
		case ParamConstant:
			query.Set(p.Name, p.Value)
		case ParamVariable:
			if v, ok := vars[p.Placeholder]; ok {
				query.Set(p.Name, v)
			} else {
				e.logger.Warn("missing variable for placeholder", "module", m.Name, "placeholder", p.Placeholder)
			}
		}
	}

	method := strings.ToUpper(m.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if m.BodyTemplate != "" && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		tpl := m.BodyTemplate
		for name, value := range vars {
			tpl = strings.ReplaceAll(tpl, "{"+name+"}", value)
		}
		if !json.Valid([]byte(tpl)) {
			return nil, fmt.Errorf("invalid JSON in body template")
		}
		body = bytes.NewReader([]byte(tpl))
	}

	reqURL := m.BaseURL
	if encoded := query.Encode(); encoded != "" {
		sep := "?"
		if strings.Contains(reqURL, "?") {
			sep = "&"
		}
		reqURL += sep + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create module request: %w", err)
	}
	for k, v := range m.Headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("module request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read module response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("module returned status %d", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		// Non-JSON responses are wrapped so templates can still reference
		// the text.
		raw = map[string]any{"text": string(data)}
	}
	return raw, nil
}

// formatResult substitutes {field} markers in the result template with
// top-level fields of the module's JSON response.
func formatResult(template string, raw map[string]any) (string, error) {
	out := template
	for _, name := range Placeholders(template) {
		value, ok := raw[name]
		if !ok {
			return "", fmt.Errorf("response has no field %q", name)
		}
		out = strings.ReplaceAll(out, "{"+name+"}", stringify(value))
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
