package kbsync

import "testing"

func TestExtractContent(t *testing.T) {
	snap := PropertySnapshot{
		"質問": {Type: "title", Title: []RichTextItem{{PlainText: "Q1"}, {PlainText: "tail"}}},
		"回答": {Type: "rich_text", RichText: []RichTextItem{{PlainText: "A1"}}},
	}
	question, answer := ExtractContent(snap, "質問", "回答")
	if question != "Q1" || answer != "A1" {
		t.Fatalf("unexpected extraction: %q / %q", question, answer)
	}
}

func TestExtractContentTitleFallbacks(t *testing.T) {
	cases := map[string]PropertySnapshot{
		"title_absent":   {},
		"empty_segments": {"質問": {Type: "title", Title: []RichTextItem{}}},
		"empty_text":     {"質問": {Type: "title", Title: []RichTextItem{{PlainText: ""}}}},
	}
	for name, snap := range cases {
		question, answer := ExtractContent(snap, "質問", "回答")
		if question != "Untitled" {
			t.Fatalf("%s: expected Untitled fallback, got %q", name, question)
		}
		if answer != "" {
			t.Fatalf("%s: expected empty answer, got %q", name, answer)
		}
	}
}

func TestExtractContentAnswerFallback(t *testing.T) {
	snap := PropertySnapshot{
		"質問": {Type: "title", Title: []RichTextItem{{PlainText: "Q1"}}},
		"回答": {Type: "rich_text", RichText: []RichTextItem{}},
	}
	question, answer := ExtractContent(snap, "質問", "回答")
	if question != "Q1" || answer != "" {
		t.Fatalf("unexpected extraction: %q / %q", question, answer)
	}
}
