package suggest

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoSuggestions is returned by callers when a model reply yields nothing.
var ErrNoSuggestions = errors.New("no suggestions found")

// Suggestion is one candidate next story beat.
type Suggestion struct {
	Text string `json:"text" yaml:"text"`
}

// matcher recognises one suggestion format. Capture group 1 holds the text.
// lineStart matchers only count when they begin a line.
type matcher struct {
	name      string
	re        *regexp.Regexp
	lineStart bool
}

// matchers are listed in priority order.
var matchers = []matcher{
	{name: "tag", re: regexp.MustCompile(`(?is)<\s*suggestion\s*>(.*?)<\s*/\s*suggestion\s*>`)},
	{name: "label", re: regexp.MustCompile(`(?i)suggestion(?:\s+|_)\d+\s*:\s*(.+)`)},
	{name: "numbered", re: regexp.MustCompile(`(?m)^\d+\.[ \t]*(.*)`), lineStart: true},
}

// from returns the first match starting at or after pos, with offsets into
// raw, or nil.
func (m matcher) from(raw string, pos int) []int {
	for pos <= len(raw) {
		loc := m.re.FindStringSubmatchIndex(raw[pos:])
		if loc == nil {
			return nil
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += pos
			}
		}
		if !m.lineStart || loc[0] == 0 || raw[loc[0]-1] == '\n' {
			return loc
		}
		pos = loc[0] + 1
	}
	return nil
}

// Matchers returns the names of the recognised formats in priority order.
func Matchers() []string {
	names := make([]string, len(matchers))
	for i, m := range matchers {
		names[i] = m.name
	}
	return names
}

// ParseWith runs only the named matchers. Unknown names are ignored.
func ParseWith(raw string, names ...string) []Suggestion {
	var ms []matcher
	for _, m := range matchers {
		for _, n := range names {
			if m.name == n {
				ms = append(ms, m)
			}
		}
	}
	return scan(raw, ms)
}

// Parse extracts suggestions from raw model output. It returns nil when none
// are found.
func Parse(raw string) []Suggestion {
	return scan(raw, matchers)
}

// scan walks raw once from left to right. At each step the earliest match
// of any matcher wins, ties going to the earlier matcher, and every matcher
// resumes from the end of the winning match.
func scan(raw string, ms []matcher) []Suggestion {
	next := make([][]int, len(ms))
	for i, m := range ms {
		next[i] = m.from(raw, 0)
	}
	var out []Suggestion
	pos := 0
	for {
		best := -1
		for i, m := range ms {
			if next[i] != nil && next[i][0] < pos {
				next[i] = m.from(raw, pos)
			}
			if next[i] == nil {
				continue
			}
			if best < 0 || next[i][0] < next[best][0] {
				best = i
			}
		}
		if best < 0 {
			break
		}
		loc := next[best]
		if text := firstCapture(raw, loc); text != "" {
			out = append(out, Suggestion{Text: text})
		}
		pos = loc[1]
		if loc[1] == loc[0] {
			pos++
		}
	}
	return out
}

func firstCapture(raw string, loc []int) string {
	for g := 2; g+1 < len(loc); g += 2 {
		if loc[g] < 0 {
			continue
		}
		if s := strings.TrimSpace(raw[loc[g]:loc[g+1]]); s != "" {
			return s
		}
	}
	return ""
}

// Texts returns the text of each suggestion.
func Texts(s []Suggestion) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = v.Text
	}
	return out
}

// Limit truncates s to at most n suggestions. n <= 0 keeps everything.
func Limit(s []Suggestion, n int) []Suggestion {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
