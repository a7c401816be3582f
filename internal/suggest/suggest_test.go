package suggest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseForms(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{"tags", "<suggestion>A</suggestion><suggestion>B</suggestion>", []string{"A", "B"}},
		{"labels", "Suggestion 1: Go north\nSuggestion 2: Go south", []string{"Go north", "Go south"}},
		{"underscore", "suggestion_1: Hide\nSUGGESTION_2 :  Run  ", []string{"Hide", "Run"}},
		{"numbered", "1. Open the door\n2. Knock first", []string{"Open the door", "Knock first"}},
		{"spaced tags", "< Suggestion >  Wait  </ suggestion >\n<SUGGESTION>Leave</suggestion >", []string{"Wait", "Leave"}},
		{"multiline tag", "<suggestion>Climb\nthe wall</suggestion>", []string{"Climb\nthe wall"}},
		{"duplicates kept", "<suggestion>A</suggestion>\n<suggestion>A</suggestion>", []string{"A", "A"}},
		{"empty skipped", "<suggestion>  </suggestion>\n<suggestion>B</suggestion>", []string{"B"}},
		{"label text on next line", "Suggestion 1:\nGo north\nSuggestion 2:\nGo south", []string{"Go north", "Go south"}},
		{"mixed order", "Sure!\n1. First\n<suggestion>Second</suggestion>\nSuggestion 3: Third", []string{"First", "Second", "Third"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Texts(Parse(tc.raw))
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseNothing(t *testing.T) {
	if got := Parse("no markers here"); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := Parse(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}

func TestParseNumberedNeedsLineStart(t *testing.T) {
	if got := Parse("we counted to 3. then stopped"); got != nil {
		t.Fatalf("mid-line number matched: %v", got)
	}
}

func TestParseTagWinsOverInnerNumbers(t *testing.T) {
	got := Texts(Parse("<suggestion>\n1. inner\n</suggestion>"))
	if diff := cmp.Diff([]string{"1. inner"}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestParseResumesAfterOverlap(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"<suggestion>Suggestion 1: x</suggestion> Suggestion 2: y", []string{"Suggestion 1: x", "y"}},
		{"<suggestion>a\n1. b</suggestion>\n1. c", []string{"a\n1. b", "c"}},
		// "2. b" follows the tag on the same line, so it does not start a line
		{"<suggestion>a\n1. x</suggestion>2. b\n3. c", []string{"a\n1. x", "c"}},
	}
	for _, tc := range cases {
		if diff := cmp.Diff(tc.want, Texts(Parse(tc.raw))); diff != "" {
			t.Fatalf("Parse(%q) (-want +got):\n%s", tc.raw, diff)
		}
	}
}

func TestParseWith(t *testing.T) {
	raw := "<suggestion>A</suggestion>\n1. B\nSuggestion 2: C"
	if got := Texts(ParseWith(raw, "numbered")); !cmp.Equal(got, []string{"B"}) {
		t.Fatalf("numbered only: %v", got)
	}
	if got := Texts(ParseWith(raw, "tag", "label")); !cmp.Equal(got, []string{"A", "C"}) {
		t.Fatalf("tag+label: %v", got)
	}
	if got := Matchers(); !cmp.Equal(got, []string{"tag", "label", "numbered"}) {
		t.Fatalf("matchers: %v", got)
	}
}

func TestParseReturnsMoreThanTarget(t *testing.T) {
	raw := strings.Repeat("<suggestion>x</suggestion>", 7)
	if n := len(Parse(raw)); n != 7 {
		t.Fatalf("expected 7, got %d", n)
	}
	if n := len(Limit(Parse(raw), 3)); n != 3 {
		t.Fatalf("limit: got %d", n)
	}
	if n := len(Limit(Parse(raw), 0)); n != 7 {
		t.Fatalf("limit 0: got %d", n)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	inputs := []string{
		"<suggestion>A</suggestion><suggestion>B</suggestion>",
		"Suggestion 1: Go north\nSuggestion 2: Go south",
		"1. Open the <door> & run\n2. Knock \"first\"",
		"<suggestion>Same</suggestion><suggestion>Same</suggestion>",
	}
	for _, raw := range inputs {
		parsed := Parse(raw)
		back, err := Extract(Render(parsed))
		if err != nil {
			t.Fatalf("Extract: %v", err)
		}
		if diff := cmp.Diff(parsed, back); diff != "" {
			t.Fatalf("round trip for %q (-want +got):\n%s", raw, diff)
		}
		again := Parse(Stringify(back))
		if diff := cmp.Diff(parsed, again); diff != "" {
			t.Fatalf("stringify round trip for %q (-want +got):\n%s", raw, diff)
		}
	}
}

func TestExtractSingle(t *testing.T) {
	got, err := Extract(Render([]Suggestion{{Text: "A"}}))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff([]Suggestion{{Text: "A"}}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if got, err := Extract(""); err != nil || got != nil {
		t.Fatalf("empty markup: %v %v", got, err)
	}
}

func TestRenderShape(t *testing.T) {
	out := Render([]Suggestion{{Text: "one"}, {Text: "two"}})
	for _, want := range []string{
		`<div class="suggestions">`,
		`<button class="suggestion" data-index="0">one</button>`,
		`<button class="edit-suggestion" data-index="1"><span class="text">two</span></button>`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %s", want, out)
		}
	}
	if strings.Index(out, "one") > strings.Index(out, "two") {
		t.Fatalf("order not preserved: %s", out)
	}
}

func TestEditText(t *testing.T) {
	markup := Render([]Suggestion{{Text: "left"}, {Text: "a < b"}})
	got, err := EditText(markup, 1)
	if err != nil {
		t.Fatalf("EditText: %v", err)
	}
	if got != "a < b" {
		t.Fatalf("got %q", got)
	}
	if _, err := EditText(markup, 5); err == nil {
		t.Fatalf("expected error for missing index")
	}
}

func TestMarkdownAndTerminal(t *testing.T) {
	s := []Suggestion{{Text: "Go north"}, {Text: "Go south"}}
	md := Markdown(s)
	if md != "1. Go north\n2. Go south\n" {
		t.Fatalf("markdown=%q", md)
	}
	if diff := cmp.Diff(s, Parse(md)); diff != "" {
		t.Fatalf("markdown does not parse back (-want +got):\n%s", diff)
	}
	out, err := Terminal(s, 60, StylePlain)
	if err != nil {
		t.Fatalf("Terminal: %v", err)
	}
	if strings.Contains(out, "\x1b") {
		t.Fatalf("plain style emitted escapes: %q", out)
	}
	for _, sg := range s {
		if !strings.Contains(out, sg.Text) {
			t.Fatalf("terminal output missing %q: %q", sg.Text, out)
		}
	}
	if _, err := Terminal(s, 60, "no-such-style"); err == nil {
		t.Fatalf("expected unknown style error")
	}
}

func TestStyleFor(t *testing.T) {
	if got := StyleFor(&bytes.Buffer{}); got != StylePlain {
		t.Fatalf("buffer style=%q", got)
	}
}
