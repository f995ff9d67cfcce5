// Package safety gates candidate replies before they can auto-execute. A
// hold never blocks the reply outright; it routes the item to human review.
package safety

import (
	"strings"

	"github.com/clubhousegolfcanada/response-engine/core/domain"
)

// HoldReason identifies why a candidate was held for review.
type HoldReason string

const (
	HoldSafetyTag        HoldReason = "safety_tag"
	HoldUnresolvedSlot   HoldReason = "unresolved_slot"
	HoldSensitiveMessage HoldReason = "sensitive_message"
	HoldSensitiveReply   HoldReason = "sensitive_reply"
)

// Check is one safety evaluation of a candidate reply.
type Check struct {
	Holds []HoldReason
}

// Hold reports whether any rule fired.
func (c *Check) Hold() bool {
	return len(c.Holds) > 0
}

// Validator applies the safety rules. Stateless; the review-tag set and the
// sensitive keyword list come from the live policy snapshot at call time.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks a rendered candidate reply against the safety rules:
// pattern tags intersecting the always-review set, placeholders the message
// could not fill, and sensitive content in either the message or the reply.
func (v *Validator) Validate(p *domain.Pattern, messageText, rendered string, unresolved []string, alwaysReviewTags, sensitiveKeywords []string) *Check {
	check := &Check{}

	for _, tag := range p.SafetyTags {
		if containsFold(alwaysReviewTags, tag) {
			check.Holds = append(check.Holds, HoldSafetyTag)
			break
		}
	}

	if len(unresolved) > 0 {
		check.Holds = append(check.Holds, HoldUnresolvedSlot)
	}

	if v.Sensitive(messageText, sensitiveKeywords) {
		check.Holds = append(check.Holds, HoldSensitiveMessage)
	}
	if v.Sensitive(rendered, sensitiveKeywords) {
		check.Holds = append(check.Holds, HoldSensitiveReply)
	}

	return check
}

// Sensitive reports whether the text contains any of the configured
// keywords, matched as substrings on the lowercased text. It runs on every
// inbound message, match or no match, so sensitive conversations always
// reach a human.
func (v *Validator) Sensitive(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
