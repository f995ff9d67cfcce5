package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ActionKind declares what executing a pattern does.
type ActionKind string

const (
	ActionSendReply   ActionKind = "send_reply"
	ActionIntegration ActionKind = "integration"
	ActionNone        ActionKind = "none"
)

// Pattern is a learned trigger→response association with confidence and
// usage statistics.
type Pattern struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"` // e.g. "pricing", "access", "general"

	// Trigger representation
	TriggerExamples []string  `json:"trigger_examples"`
	Embedding       []float32 `json:"-"`
	RequiredTerms   []string  `json:"required_terms,omitempty"`
	ForbiddenTerms  []string  `json:"forbidden_terms,omitempty"`

	// Action
	Template   string     `json:"template"`
	ActionKind ActionKind `json:"action_kind"`

	// Statistics. Invariant: Confidence in [0,1] and
	// AcceptedCount+RejectedCount <= ExecutionCount.
	ExecutionCount int        `json:"execution_count"`
	AcceptedCount  int        `json:"accepted_count"`
	RejectedCount  int        `json:"rejected_count"`
	Confidence     float64    `json:"confidence"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`

	// Lifecycle
	Enabled        bool     `json:"enabled"`
	AutoExecutable bool     `json:"auto_executable"`
	SafetyTags     []string `json:"safety_tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerText joins the trigger examples into the text that gets embedded.
func (p *Pattern) TriggerText() string {
	return strings.Join(p.TriggerExamples, "\n")
}

// Validate checks the pattern invariants.
func (p *Pattern) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	if p.Category == "" {
		return fmt.Errorf("pattern category is required")
	}
	if len(p.TriggerExamples) == 0 {
		return fmt.Errorf("pattern needs at least one trigger example")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %.3f outside [0,1]", p.Confidence)
	}
	if p.AcceptedCount+p.RejectedCount > p.ExecutionCount {
		return fmt.Errorf("accepted(%d)+rejected(%d) exceeds executions(%d)",
			p.AcceptedCount, p.RejectedCount, p.ExecutionCount)
	}
	switch p.ActionKind {
	case ActionSendReply, ActionIntegration, ActionNone, "":
	default:
		return fmt.Errorf("unknown action kind %q", p.ActionKind)
	}
	return nil
}

// placeholderRe matches {{slot}} placeholders in response templates.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Render fills template slots from values and returns the rendered reply
// plus the names of any slots that did not resolve. A reply with
// unresolved slots must never be auto-sent.
func (p *Pattern) Render(values map[string]string) (string, []string) {
	var unresolved []string
	rendered := placeholderRe.ReplaceAllStringFunc(p.Template, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok && v != "" {
			return v
		}
		unresolved = append(unresolved, name)
		return m
	})
	return rendered, unresolved
}

// Slots returns the placeholder names declared in the template.
func (p *Pattern) Slots() []string {
	matches := placeholderRe.FindAllStringSubmatch(p.Template, -1)
	seen := make(map[string]bool, len(matches))
	var slots []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			slots = append(slots, m[1])
		}
	}
	return slots
}
