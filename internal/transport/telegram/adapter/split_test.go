package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramTextShortPassthrough(t *testing.T) {
	got := splitTelegramText("hello", 100, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	text := strings.Repeat("line one\n", 40)
	chunks := splitTelegramText(text, 100, "")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has trailing newline", i)
		}
	}
	joined := strings.Join(chunks, "\n") + "\n"
	if strings.ReplaceAll(joined, "\n", "") != strings.ReplaceAll(text, "\n", "") {
		t.Fatal("content lost while splitting")
	}
}

func TestSplitTelegramTextAvoidsHTMLTagCut(t *testing.T) {
	text := strings.Repeat("x", 95) + "<b>bold and long enough to overflow</b>"
	chunks := splitTelegramText(text, 100, "HTML")
	for i, c := range chunks {
		opens := strings.Count(c, "<")
		closes := strings.Count(c, ">")
		if opens != closes {
			t.Fatalf("chunk %d splits inside a tag: %q", i, c)
		}
	}
}
