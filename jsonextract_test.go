package serenpair

import "testing"

func TestExtractJSONDirectParse(t *testing.T) {
	var out map[string]string
	if err := ExtractJSON(`{"a":"b"}`, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != "b" {
		t.Errorf("got %v", out)
	}
}

func TestExtractJSONStripsFence(t *testing.T) {
	raw := "```json\n{\"a\":1}\n```"
	var out map[string]int
	if err := ExtractJSON(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["a"] != 1 {
		t.Errorf("got %v", out)
	}
}

func TestExtractJSONLocatesOuterSpan(t *testing.T) {
	raw := "Sure, here is the array: [{\"claim\":\"x\"}] — hope that helps!"
	var out []map[string]string
	if err := ExtractJSON(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0]["claim"] != "x" {
		t.Errorf("got %v", out)
	}
}

func TestExtractJSONRemovesTrailingCommas(t *testing.T) {
	raw := `[{"claim":"x"},{"claim":"y"},]`
	var out []map[string]string
	if err := ExtractJSON(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Errorf("got %v", out)
	}
}

func TestExtractJSONEscapesRawNewlines(t *testing.T) {
	raw := "{\"reason\":\"line one\nline two\"}"
	var out map[string]string
	if err := ExtractJSON(raw, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["reason"] != "line one\nline two" {
		t.Errorf("got %q", out["reason"])
	}
}

func TestExtractJSONFailsOnUnrepairableUnterminatedString(t *testing.T) {
	raw := "{\"claim\":\"the quick brown fox\n\"context\":\"hello\"}"
	var out map[string]string
	err := ExtractJSON(raw, &out)
	if err == nil {
		t.Fatalf("expected parsing to still fail on doubly-broken input, got result %v", out)
	}
}

func TestExtractJSONGivesUpOnGarbage(t *testing.T) {
	var out map[string]string
	if err := ExtractJSON("not json at all, just prose", &out); err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}
