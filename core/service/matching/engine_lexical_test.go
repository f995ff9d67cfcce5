package matching

import (
	"math"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and splits on punctuation",
			text: "What are your Pricing plans?",
			want: []string{"what", "are", "your", "pricing", "plans"},
		},
		{
			name: "collapses duplicates",
			text: "refund refund REFUND",
			want: []string{"refund"},
		},
		{
			name: "keeps digits",
			text: "bay 7 booking",
			want: []string{"bay", "7", "booking"},
		},
		{
			name: "empty text",
			text: "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := Tokenize(tt.text)
			if len(tokens) != len(tt.want) {
				t.Fatalf("got %d tokens, want %d: %v", len(tokens), len(tt.want), tokens)
			}
			for _, w := range tt.want {
				if _, ok := tokens[w]; !ok {
					t.Errorf("missing token %q", w)
				}
			}
		})
	}
}

func TestContainsTerm(t *testing.T) {
	tokens := Tokenize("I need a refund for my membership payment")

	tests := []struct {
		term string
		want bool
	}{
		{"refund", true},
		{"REFUND", true},
		{"membership payment", true},
		{"cancel", false},
		{"refund cancel", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			if got := ContainsTerm(tokens, tt.term); got != tt.want {
				t.Errorf("ContainsTerm(%q) = %v, want %v", tt.term, got, tt.want)
			}
		})
	}
}

func TestLexicalScore(t *testing.T) {
	messageTokens := Tokenize("what are your pricing plans")

	t.Run("identical example scores 1", func(t *testing.T) {
		score := LexicalScore(messageTokens, []string{"what are your pricing plans"})
		if score != 1.0 {
			t.Errorf("score = %.3f, want 1.0", score)
		}
	})

	t.Run("disjoint example scores 0", func(t *testing.T) {
		score := LexicalScore(messageTokens, []string{"reset password please"})
		if score != 0 {
			t.Errorf("score = %.3f, want 0", score)
		}
	})

	t.Run("best example wins", func(t *testing.T) {
		low := LexicalScore(messageTokens, []string{"pricing"})
		both := LexicalScore(messageTokens, []string{"pricing", "what are your pricing plans"})
		if both <= low {
			t.Errorf("best-of should win: both=%.3f low=%.3f", both, low)
		}
	})

	t.Run("no examples scores 0", func(t *testing.T) {
		if score := LexicalScore(messageTokens, nil); score != 0 {
			t.Errorf("score = %.3f, want 0", score)
		}
	})
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite clamps to zero", []float32{1, 0}, []float32{-1, 0}, 0},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %.6f, want %.6f", got, tt.want)
			}
		})
	}
}
