package factlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/rcliao/fact-memory/internal/model"
)

func TestFormat(t *testing.T) {
	f := model.Fact{ID: "wk_1a2b3c4d", Type: model.FactWorking, Importance: model.ImportanceNormal, ExpiresAt: "2026-03-24", Text: "Migrating the database"}
	assert.Equal(t, "- [id:wk_1a2b3c4d] [t:working] [imp:normal] [exp:2026-03-24] Migrating the database", Format(f))

	f = model.Fact{ID: "pf_1", Type: model.FactProfile, Importance: model.ImportanceHigh, Text: "Lives in Moscow"}
	assert.Equal(t, "- [id:pf_1] [t:profile] [imp:high] Lives in Moscow", Format(f))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		line string
		want model.Fact
		ok   bool
	}{
		{
			name: "canonical",
			line: "- [id:pf_1] [t:profile] [imp:high] Lives in Moscow",
			want: model.Fact{ID: "pf_1", Type: model.FactProfile, Importance: model.ImportanceHigh, Text: "Lives in Moscow"},
			ok:   true,
		},
		{
			name: "any tag order and unknown tags",
			line: "  - [imp:low] [src:chat] [t:archive] [id:ar_9]   Old   note  ",
			want: model.Fact{ID: "ar_9", Type: model.FactArchive, Importance: model.ImportanceLow, Text: "Old note"},
			ok:   true,
		},
		{
			name: "bad expiry ignored",
			line: "- [id:wk_2] [t:working] [imp:normal] [exp:soon] Fix the roof",
			want: model.Fact{ID: "wk_2", Type: model.FactWorking, Importance: model.ImportanceNormal, Text: "Fix the roof"},
			ok:   true,
		},
		{
			name: "tags inside the body are text",
			line: "- [id:pf_1] [t:profile] [imp:high] nick is [t:archive] and [id:pf_2]",
			want: model.Fact{ID: "pf_1", Type: model.FactProfile, Importance: model.ImportanceHigh, Text: "nick is [t:archive] and [id:pf_2]"},
			ok:   true,
		},
		{
			name: "escaped leading bracket",
			line: `- [id:ar_1] [t:archive] [imp:low] \[note:x] kept`,
			want: model.Fact{ID: "ar_1", Type: model.FactArchive, Importance: model.ImportanceLow, Text: "[note:x] kept"},
			ok:   true,
		},
		{name: "no bullet", line: "[id:pf_1] [t:profile] [imp:high] text"},
		{name: "missing id", line: "- [t:profile] [imp:high] text"},
		{name: "invalid type", line: "- [id:x_1] [t:episodic] [imp:high] text"},
		{name: "invalid importance", line: "- [id:x_1] [t:profile] [imp:critical] text"},
		{name: "legacy", line: "- plain legacy text"},
		{name: "blank", line: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_SingleLine(t *testing.T) {
	f := model.Fact{ID: "ar_1", Type: model.FactArchive, Importance: model.ImportanceLow, Text: "first line\n  second\tline "}
	assert.Equal(t, "- [id:ar_1] [t:archive] [imp:low] first line second line", Format(f))

	f.Text = "[t:profile] looks like a tag"
	assert.Equal(t, `- [id:ar_1] [t:archive] [imp:low] \[t:profile] looks like a tag`, Format(f))
	got, ok := Parse(Format(f))
	assert.True(t, ok)
	assert.Equal(t, f, got)
}

func TestParseLegacy(t *testing.T) {
	f := ParseLegacy("  - likes green tea", "ar_x")
	assert.Equal(t, model.Fact{ID: "ar_x", Type: model.FactArchive, Importance: model.ImportanceLow, Text: "likes green tea"}, f)
	assert.Equal(t, "(empty)", ParseLegacy("-", "ar_y").Text)
}

func TestFormatParse_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := rapid.SampledFrom(model.FactTypes).Draw(t, "type")
		f := model.Fact{
			ID:         typ.IDPrefix() + "_" + rapid.StringMatching(`[A-Za-z0-9-]{1,12}`).Draw(t, "id"),
			Type:       typ,
			Importance: rapid.SampledFrom([]model.Importance{model.ImportanceHigh, model.ImportanceNormal, model.ImportanceLow}).Draw(t, "imp"),
			Text:       strings.Join(rapid.SliceOfN(rapid.StringMatching(`[a-zA-Zа-яА-Я0-9.,!]{1,10}`), 1, 12).Draw(t, "words"), " "),
		}
		if typ == model.FactWorking && rapid.Bool().Draw(t, "hasExp") {
			f.ExpiresAt = rapid.SampledFrom([]string{"2025-01-01", "2026-12-31", "2030-06-15"}).Draw(t, "exp")
		}
		got, ok := Parse(Format(f))
		if !ok {
			t.Fatalf("Parse(Format(%+v)) not ok", f)
		}
		if got != f {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
		}
	})
}

func TestFormatParse_RoundTripAnyText(t *testing.T) {
	word := rapid.OneOf(
		rapid.StringMatching(`[a-zа-я0-9.,!?\\]{1,8}`),
		rapid.StringMatching(`\[(id|t|imp|exp|src):[a-z0-9_-]{1,10}\]`),
		rapid.SampledFrom([]string{"[", "]", "\\", "[x]", "- [", "\\["}),
	)
	sep := rapid.SampledFrom([]string{" ", "  ", "\n", "\r\n", "\t", " \n "})
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(word, 1, 10).Draw(t, "words")
		var b strings.Builder
		for i, w := range words {
			if i > 0 {
				b.WriteString(sep.Draw(t, "sep"))
			}
			b.WriteString(w)
		}
		f := model.Fact{ID: "wk_1a2b3c4d", Type: model.FactWorking, Importance: model.ImportanceNormal, ExpiresAt: "2026-03-24", Text: b.String()}

		line := Format(f)
		if strings.ContainsAny(line, "\r\n") {
			t.Fatalf("Format(%q) spans lines: %q", f.Text, line)
		}
		got, ok := Parse(line)
		if !ok {
			t.Fatalf("Parse(%q) not ok", line)
		}
		want := f
		want.Text = Clean(f.Text)
		if got != want {
			t.Fatalf("round trip mismatch for %q: got %+v want %+v", f.Text, got, want)
		}
	})
}
