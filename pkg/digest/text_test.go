package digest

import "testing"

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		length int
		want   string
	}{
		{
			name:   "fits exactly",
			in:     "one two three",
			length: 13,
			want:   "one two three",
		},
		{
			name:   "one over, backs up to word boundary",
			in:     "one two three",
			length: 12,
			want:   "one two...",
		},
		{
			name:   "whitespace trimmed before counting",
			in:     "   one two three   ",
			length: 13,
			want:   "one two three",
		},
		{
			name:   "single long word gets hard cut",
			in:     "supercalifragilistic",
			length: 10,
			want:   "superca...",
		},
		{
			name:   "unicode counted by code points",
			in:     "héllo wörld wide",
			length: 12,
			want:   "héllo...",
		},
		{
			name:   "empty string",
			in:     "",
			length: 10,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.in, tt.length); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.length, got, tt.want)
			}
		})
	}
}

func TestTruncateNeverExceedsLength(t *testing.T) {
	inputs := []string{
		"the quick brown fox jumps over the lazy dog",
		"averyveryverylongwordwithoutanyspacesatall",
		"short",
	}
	for _, in := range inputs {
		for length := 5; length <= 20; length++ {
			got := Truncate(in, length)
			if n := len([]rune(got)); n > length {
				t.Errorf("Truncate(%q, %d) = %q (%d code points), exceeds limit", in, length, got, n)
			}
		}
	}
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "plain text untouched",
			in:   "no markup here",
			want: "no markup here",
		},
		{
			name: "simple tags removed",
			in:   "<p>hello <b>world</b></p>",
			want: "hello world",
		},
		{
			name: "nested markup",
			in:   "<div><span>a</span> <em>b</em></div>",
			want: "a b",
		},
		{
			name: "entities decoded",
			in:   "<p>fish &amp; chips</p>",
			want: "fish & chips",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripTags(tt.in); got != tt.want {
				t.Errorf("StripTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextList(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{name: "empty", in: nil, want: ""},
		{name: "one", in: []string{"spam"}, want: "spam"},
		{name: "two", in: []string{"spam", "eggs"}, want: "spam and eggs"},
		{name: "three", in: []string{"spam", "eggs", "beans"}, want: "spam, eggs, and beans"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TextList(tt.in); got != tt.want {
				t.Errorf("TextList(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
