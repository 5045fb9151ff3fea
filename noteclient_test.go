package serenpair

import "testing"

func TestRenderBlock(t *testing.T) {
	cases := []struct {
		name string
		in   notionRawBlock
		want string
	}{
		{"paragraph", notionRawBlock{Type: "paragraph", PlainText: "hello"}, "hello"},
		{"empty paragraph", notionRawBlock{Type: "paragraph", PlainText: "  "}, ""},
		{"heading_1", notionRawBlock{Type: "heading_1", PlainText: "Title"}, "# Title"},
		{"heading_2", notionRawBlock{Type: "heading_2", PlainText: "Sub"}, "## Sub"},
		{"bulleted", notionRawBlock{Type: "bulleted_list_item", PlainText: "item"}, "- item"},
		{"quote", notionRawBlock{Type: "quote", PlainText: "wise words"}, "> wise words"},
		{"callout default emoji", notionRawBlock{Type: "callout", PlainText: "note"}, "💡 note"},
		{"callout custom emoji", notionRawBlock{Type: "callout", PlainText: "note", Emoji: "🔥"}, "🔥 note"},
		{"code", notionRawBlock{Type: "code", PlainText: "x := 1", Language: "go"}, "```go\nx := 1\n```"},
		{"toggle", notionRawBlock{Type: "toggle", PlainText: "more"}, "▶ more"},
		{"unsupported type", notionRawBlock{Type: "divider", PlainText: "n/a"}, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := renderBlock(c.in); got != c.want {
				t.Errorf("renderBlock(%+v) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

func TestFlattenBlocksSkipsEmpty(t *testing.T) {
	blocks := []notionRawBlock{
		{Type: "heading_1", PlainText: "Intro"},
		{Type: "divider"},
		{Type: "paragraph", PlainText: "body text"},
		{Type: "paragraph", PlainText: "   "},
	}
	got := FlattenBlocks(blocks)
	want := "# Intro\n\nbody text"
	if got != want {
		t.Errorf("FlattenBlocks() = %q, want %q", got, want)
	}
}
