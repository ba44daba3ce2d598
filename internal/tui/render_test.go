package tui

import (
	"strings"
	"testing"
	"time"
)

func TestRenderMarkdown_Basic(t *testing.T) {
	input := "# Hello\n\nThis is **bold** text."
	result := RenderMarkdown(input, 80)
	if result == "" {
		t.Fatal("RenderMarkdown returned empty")
	}
	// Glamour 应该渲染了标题 / Glamour should have rendered the heading
	if !strings.Contains(result, "Hello") {
		t.Fatalf("result should contain 'Hello': %q", result)
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	if RenderMarkdown("", 80) != "" {
		t.Fatal("empty input should return empty")
	}
	if RenderMarkdown("  ", 80) != "" {
		t.Fatal("whitespace input should return empty")
	}
}

func TestRenderMarkdown_CodeBlock(t *testing.T) {
	input := "```go\nfunc main() {}\n```"
	result := RenderMarkdown(input, 80)
	if !strings.Contains(result, "func") {
		t.Fatalf("code block should contain 'func': %q", result)
	}
}

func TestRenderDiffLine(t *testing.T) {
	theme := DarkTheme()

	tests := []struct {
		input  string
		expect string
	}{
		{"+added line", "added"},
		{"-removed line", "removed"},
		{"@@ -1,3 +1,4 @@", "@@"},
		{" context line", " context line"},
		{"", ""},
	}
	for _, tt := range tests {
		got := RenderDiffLine(tt.input, theme)
		if tt.expect != "" && !strings.Contains(got, tt.expect) {
			t.Errorf("RenderDiffLine(%q) should contain %q, got %q", tt.input, tt.expect, got)
		}
	}
}

func TestRenderDiff(t *testing.T) {
	theme := DarkTheme()
	diff := "--- a/file.go\n+++ b/file.go\n@@ -1,2 +1,3 @@\n context\n-old\n+new\n+added"
	result := RenderDiff(diff, theme)
	if result == "" {
		t.Fatal("RenderDiff returned empty")
	}
	if !strings.Contains(result, "new") {
		t.Fatalf("should contain 'new': %q", result)
	}
}

func TestRenderToolLine(t *testing.T) {
	theme := DarkTheme()
	if got := RenderToolLine(theme, "→", `Bash "ls"`); !strings.Contains(got, `Bash "ls"`) {
		t.Fatalf("start line missing summary: %q", got)
	}
	if got := RenderToolLine(theme, "✗", "boom"); !strings.Contains(got, "boom") {
		t.Fatalf("error line missing summary: %q", got)
	}
}

func TestRenderStatusLine(t *testing.T) {
	theme := DarkTheme()
	got := RenderStatusLine(theme, 2500*time.Millisecond, 1536)
	if !strings.Contains(got, "2.5s") {
		t.Fatalf("missing elapsed: %q", got)
	}
	if !strings.Contains(got, "1.5k") {
		t.Fatalf("missing token estimate: %q", got)
	}

	noTokens := RenderStatusLine(theme, time.Second, 0)
	if strings.Contains(noTokens, "tokens") {
		t.Fatalf("zero tokens should omit the count: %q", noTokens)
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{512, "512"},
		{1536, "1.5k"},
		{2_400_000, "2.4M"},
	}
	for _, tt := range tests {
		if got := FormatTokens(tt.n); got != tt.want {
			t.Fatalf("FormatTokens(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
