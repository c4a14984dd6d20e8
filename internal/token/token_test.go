package token

import (
	"reflect"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Ana Lee", "ana lee"},
		{"trim", "  ana  ", "ana"},
		{"collapse whitespace", "ana \t\n lee", "ana lee"},
		{"strip punctuation", "o'brien & sons!", "obrien sons"},
		{"keep email chars", "Ana.Lee@Example.COM", "ana.lee@example.com"},
		{"empty", "", ""},
		{"only punctuation", "--- !!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDigits(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"no digits", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Digits(tt.input); got != tt.want {
			t.Errorf("Digits(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestPrefixesOf(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   []string
	}{
		{"basic", "Ana", 10, []string{"a", "an", "ana"}},
		{"capped", "penelope", 3, []string{"p", "pe", "pen"}},
		{"empty", "", 10, nil},
		{"zero max", "ana", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrefixesOf(tt.input, tt.maxLen)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PrefixesOf(%q, %d) = %v, want %v", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

// Every element must be a literal prefix of the normalized input, and the
// result is bounded by min(len, maxLen).
func TestPrefixesOfProperties(t *testing.T) {
	inputs := []string{"Penelope Hernandez", "a", "ana.lee@example.com", "  Mixed   Case  "}
	for _, in := range inputs {
		norm := Normalize(in)
		got := PrefixesOf(in, 10)
		if len(got) > min(len(norm), 10) {
			t.Errorf("PrefixesOf(%q) returned %d elements, max %d", in, len(got), min(len(norm), 10))
		}
		for _, p := range got {
			if !strings.HasPrefix(norm, p) {
				t.Errorf("PrefixesOf(%q): %q is not a prefix of %q", in, p, norm)
			}
		}
	}
}

func TestWordPrefixesOf(t *testing.T) {
	got := WordPrefixesOf("Ana Lee")
	mustContain := []string{"ana lee", "ana", "lee", "a", "an", "l", "le"}
	for _, w := range mustContain {
		if !contains(got, w) {
			t.Errorf("WordPrefixesOf(%q) missing %q (got %v)", "Ana Lee", w, got)
		}
	}
	// Full text comes first.
	if len(got) == 0 || got[0] != "ana lee" {
		t.Errorf("expected full text first, got %v", got)
	}
}

func TestWordPrefixesOfPhrases(t *testing.T) {
	got := WordPrefixesOf("big red fox")
	for _, phrase := range []string{"big red fox", "big red", "red fox", "big", "red", "fox"} {
		if !contains(got, phrase) {
			t.Errorf("missing phrase %q in %v", phrase, got)
		}
	}
}

func TestWordPrefixesOfCap(t *testing.T) {
	// A 600-character phrase-heavy input must cap at exactly MaxPrefixes.
	words := make([]string, 0, 100)
	for len(strings.Join(words, " ")) < 600 {
		words = append(words, strings.Repeat(string(rune('a'+len(words)%26)), 5)+string(rune('a'+len(words)%26)))
	}
	input := strings.Join(words, " ")
	got := WordPrefixesOf(input)
	if len(got) != MaxPrefixes {
		t.Errorf("expected exactly %d entries, got %d", MaxPrefixes, len(got))
	}
}

func TestWordPrefixesOfEmpty(t *testing.T) {
	if got := WordPrefixesOf(""); got != nil {
		t.Errorf("WordPrefixesOf(\"\") = %v, want nil", got)
	}
}

func TestKeywordsOf(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "words and bigram",
			input: "Follow up call",
			want:  []string{"follow", "up", "call", "follow up", "up call"},
		},
		{
			name:  "short tokens dropped",
			input: "a proposal b",
			want:  []string{"proposal"},
		},
		{
			name:  "numeric tokens dropped",
			input: "invoice 12345 overdue",
			want:  []string{"invoice", "overdue", "invoice overdue"},
		},
		{
			name:  "punctuation splits",
			input: "re: pricing-quote (final)",
			want:  []string{"re", "pricing", "quote", "final", "re pricing", "pricing quote", "quote final"},
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "only punctuation",
			input: "... --- !!!",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeywordsOf(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("KeywordsOf(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// Every keyword has length >= 2 and is not purely numeric; bigrams only
// appear when the source has at least two qualifying words.
func TestKeywordsOfProperties(t *testing.T) {
	inputs := []string{"Q3 renewal discussion", "call 555 1234", "x", "meeting"}
	for _, in := range inputs {
		got := KeywordsOf(in)
		for _, kw := range got {
			if len(kw) < 2 {
				t.Errorf("KeywordsOf(%q): token %q shorter than 2", in, kw)
			}
			if numeric(kw) {
				t.Errorf("KeywordsOf(%q): token %q is purely numeric", in, kw)
			}
		}
	}

	if got := KeywordsOf("meeting"); len(got) != 1 {
		t.Errorf("single word must not produce bigrams, got %v", got)
	}
}

func TestKeywordsOfCap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteString("word")
		sb.WriteString(strings.Repeat("x", i%7+1))
		sb.WriteByte(' ')
	}
	got := KeywordsOf(sb.String())
	if len(got) > MaxKeywords {
		t.Errorf("keyword set exceeds cap: %d > %d", len(got), MaxKeywords)
	}
}

func TestUnion(t *testing.T) {
	got := Union(4, []string{"a", "b"}, []string{"b", "c", "d", "e"})
	want := []string{"a", "b", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Union = %v, want %v", got, want)
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
