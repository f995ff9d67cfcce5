package safety

import (
	"testing"

	"github.com/clubhousegolfcanada/response-engine/config"
	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

func testPattern(tags ...string) *domain.Pattern {
	return &domain.Pattern{
		ID:              1,
		Name:            "hours",
		Category:        "general",
		TriggerExamples: []string{"what time do you open"},
		Template:        "We open at {{open_time}} daily.",
		ActionKind:      domain.ActionSendReply,
		SafetyTags:      tags,
		Enabled:         true,
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator()
	pol := config.DefaultPolicyConfig()

	tests := []struct {
		name       string
		pattern    *domain.Pattern
		message    string
		rendered   string
		unresolved []string
		wantHold   bool
		wantReason HoldReason
	}{
		{
			name:     "clean reply passes",
			pattern:  testPattern(),
			message:  "what time do you open",
			rendered: "We open at 9am daily.",
			wantHold: false,
		},
		{
			name:       "payment tag holds",
			pattern:    testPattern("payment"),
			message:    "what time do you open",
			rendered:   "We open at 9am daily.",
			wantHold:   true,
			wantReason: HoldSafetyTag,
		},
		{
			name:       "tag match is case-insensitive",
			pattern:    testPattern("Refund"),
			message:    "what time do you open",
			rendered:   "We open at 9am daily.",
			wantHold:   true,
			wantReason: HoldSafetyTag,
		},
		{
			name:     "untracked tag passes",
			pattern:  testPattern("hours"),
			message:  "what time do you open",
			rendered: "We open at 9am daily.",
			wantHold: false,
		},
		{
			name:       "unresolved slot holds",
			pattern:    testPattern(),
			message:    "what time do you open",
			rendered:   "We open at {{open_time}} daily.",
			unresolved: []string{"open_time"},
			wantHold:   true,
			wantReason: HoldUnresolvedSlot,
		},
		{
			name:       "sensitive message holds",
			pattern:    testPattern(),
			message:    "what time do you open, also I want a refund",
			rendered:   "We open at 9am daily.",
			wantHold:   true,
			wantReason: HoldSensitiveMessage,
		},
		{
			name:       "legal threat holds",
			pattern:    testPattern(),
			message:    "my lawyer will be in touch about opening hours",
			rendered:   "We open at 9am daily.",
			wantHold:   true,
			wantReason: HoldSensitiveMessage,
		},
		{
			name:       "sensitive rendered reply holds",
			pattern:    testPattern(),
			message:    "what time do you open",
			rendered:   "Please share your password to continue.",
			wantHold:   true,
			wantReason: HoldSensitiveReply,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := v.Validate(tt.pattern, tt.message, tt.rendered, tt.unresolved, pol.AlwaysReviewTags, pol.SensitiveKeywords)
			if check.Hold() != tt.wantHold {
				t.Fatalf("Hold() = %v, want %v (holds: %v)", check.Hold(), tt.wantHold, check.Holds)
			}
			if tt.wantHold {
				found := false
				for _, r := range check.Holds {
					if r == tt.wantReason {
						found = true
					}
				}
				if !found {
					t.Errorf("holds %v missing %s", check.Holds, tt.wantReason)
				}
			}
		})
	}
}

func TestValidateAccumulatesHolds(t *testing.T) {
	v := NewValidator()
	p := testPattern("payment")

	pol := config.DefaultPolicyConfig()
	check := v.Validate(p,
		"I was injured and want a refund",
		"Sorry to hear that, {{name}}.",
		[]string{"name"},
		pol.AlwaysReviewTags, pol.SensitiveKeywords)

	if len(check.Holds) < 3 {
		t.Errorf("expected at least 3 holds, got %v", check.Holds)
	}
}

func TestSensitiveUsesConfiguredKeywords(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		text     string
		keywords []string
		want     bool
	}{
		{"default list hits", "I was injured at your facility", config.DefaultPolicyConfig().SensitiveKeywords, true},
		{"matching is case-insensitive", "MY LAWYER WILL SUE YOU", config.DefaultPolicyConfig().SensitiveKeywords, true},
		{"clean text passes", "what time do you open", config.DefaultPolicyConfig().SensitiveKeywords, false},
		{"custom list replaces default", "I want a refund", []string{"gift card"}, false},
		{"custom keyword hits", "where is my gift card", []string{"gift card"}, true},
		{"empty list never holds", "refund lawsuit password", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Sensitive(tt.text, tt.keywords); got != tt.want {
				t.Errorf("Sensitive(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
