package trigger

import (
	"log/slog"
	"sync"

	"github.com/miraihub/mirai-gateway/internal/metrics"
)

// ParamType distinguishes constant query parameters from ones filled from
// trigger variables.
type ParamType string

const (
	ParamConstant ParamType = "constant"
	ParamVariable ParamType = "variable"
)

// Param is one query parameter of an API module request.
type Param struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"param_type"`
	Value       string    `json:"value,omitempty"`
	Placeholder string    `json:"placeholder,omitempty"`
}

// Module is a user-defined external API integration, invoked when one of
// its trigger phrases matches an utterance.
type Module struct {
	UID            string            `json:"module_uid"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	BaseURL        string            `json:"base_url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers,omitempty"`
	Params         []Param           `json:"params,omitempty"`
	BodyTemplate   string            `json:"body_template,omitempty"`
	TriggerPhrases []string          `json:"trigger_phrases"`
	ResultTemplate string            `json:"result_template,omitempty"`
	Active         bool              `json:"is_active"`
}

// Match is a successful trigger evaluation.
type Match struct {
	Module    *Module
	Trigger   string
	Variables map[string]string
}

// Registry holds the active modules and evaluates their triggers in a
// stable registration order.
type Registry struct {
	mu      sync.RWMutex
	modules []*Module
	cache   *templateCache
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		cache:  newTemplateCache(),
		logger: logger,
	}
}

// Register appends a module to the registry. Registration order is the
// tie-break for overlapping triggers.
func (r *Registry) Register(m *Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modules = append(r.modules, m)
	r.logger.Info("registered api module", "module", m.Name, "triggers", len(m.TriggerPhrases))
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// FindMatch evaluates the utterance against every active module's triggers
// in registration order and returns the first match. Malformed triggers are
// logged and skipped; evaluation continues with the next phrase.
func (r *Registry) FindMatch(query string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.modules {
		if !m.Active {
			continue
		}
		for _, phrase := range m.TriggerPhrases {
			tpl, err := r.cache.get(phrase)
			if err != nil {
				r.logger.Warn("skipping malformed trigger template", "module", m.Name, "trigger", phrase, "error", err)
				continue
			}
			vars, ok := tpl.match(query)
			if !ok {
				continue
			}
			metrics.TriggerMatches.Inc()
			r.logger.Debug("trigger matched", "module", m.Name, "trigger", phrase, "variables", vars)
			return &Match{Module: m, Trigger: phrase, Variables: vars}, true
		}
	}
	return nil, false
}
