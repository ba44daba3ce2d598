package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

func TestSearchToolTextMatches(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n")
	writeFixture(t, ws, "util.go", "package main\n\nfunc helper() string { return \"hello hello\" }\n")
	writeFixture(t, ws, "README.md", "nothing here\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"hello","search_type":"text"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, `Search results for "hello":`) {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "main.go (1 matches)") {
		t.Fatalf("missing main.go match:\n%s", out)
	}
	if !strings.Contains(out, "util.go (1 matches)") {
		t.Fatalf("two hits on one line still count as one matching line:\n%s", out)
	}
	if strings.Contains(out, "README.md") {
		t.Fatalf("README.md should not match:\n%s", out)
	}
}

func TestSearchToolFileNameScoring(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "config.go", "x\n")
	writeFixture(t, ws, "sub/config_test.go", "x\n")
	writeFixture(t, ws, "unrelated.txt", "x\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"config.go","search_type":"files"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) < 3 {
		t.Fatalf("want at least two results:\n%s", out)
	}
	// exact base-name match outranks the substring match
	if strings.TrimSpace(lines[1]) != "config.go" {
		t.Fatalf("first result = %q, want config.go:\n%s", lines[1], out)
	}
	if !strings.Contains(out, "sub/config_test.go") {
		t.Fatalf("missing substring match:\n%s", out)
	}
	if strings.Contains(out, "unrelated.txt") {
		t.Fatalf("unrelated.txt should not appear:\n%s", out)
	}
}

func TestSearchToolRegexAndWholeWord(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "code.txt", "handler\nhandle\nhandles\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"handle","search_type":"text","whole_word":true}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "code.txt (1 matches)") {
		t.Fatalf("whole_word should match only the bare word:\n%s", out)
	}

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"handle[rs]","search_type":"text","regex":true}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "code.txt (2 matches)") {
		t.Fatalf("regex should match handler and handles:\n%s", out)
	}

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"[","search_type":"text","regex":true}`))
	if err == nil || !strings.Contains(err.Error(), "invalid search pattern") {
		t.Fatalf("error = %v, want invalid search pattern", err)
	}
}

func TestSearchToolCaseSensitivity(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "a.txt", "Hello\nhello\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"Hello","search_type":"text","case_sensitive":true}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "a.txt (1 matches)") {
		t.Fatalf("case sensitive search should hit one line:\n%s", out)
	}

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"Hello","search_type":"text"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "a.txt (2 matches)") {
		t.Fatalf("default search is case insensitive:\n%s", out)
	}
}

func TestSearchToolFilters(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "a.go", "needle\n")
	writeFixture(t, ws, "b.ts", "needle\n")
	writeFixture(t, ws, "vendor/c.go", "needle\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"needle","search_type":"text","file_types":["go"],"exclude_pattern":"vendor/**"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "a.go") {
		t.Fatalf("a.go should match:\n%s", out)
	}
	if strings.Contains(out, "b.ts") || strings.Contains(out, "vendor/c.go") {
		t.Fatalf("filters should drop b.ts and vendor/c.go:\n%s", out)
	}
}

func TestSearchToolSkipsHiddenAndGit(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, ".git/objects/x.txt", "needle\n")
	writeFixture(t, ws, ".hidden/y.txt", "needle\n")
	writeFixture(t, ws, "visible.txt", "needle\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"needle","search_type":"text"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "visible.txt") {
		t.Fatalf("visible.txt should match:\n%s", out)
	}
	if strings.Contains(out, ".git") || strings.Contains(out, ".hidden") {
		t.Fatalf("hidden trees should be skipped:\n%s", out)
	}

	out, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"needle","search_type":"text","include_hidden":true}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, ".hidden/y.txt") {
		t.Fatalf("include_hidden should surface .hidden:\n%s", out)
	}
	if strings.Contains(out, ".git") {
		t.Fatalf(".git stays skipped even with include_hidden:\n%s", out)
	}
}

func TestSearchToolSearchesFromSessionCwd(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "top.txt", "needle\n")
	writeFixture(t, ws, "sub/deep.txt", "needle\n")
	st.SetCwd(filepath.Join(ws.Root(), "sub"))

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"needle","search_type":"text"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "deep.txt") {
		t.Fatalf("deep.txt should match relative to cwd:\n%s", out)
	}
	if strings.Contains(out, "top.txt") {
		t.Fatalf("top.txt is above the cwd and should not appear:\n%s", out)
	}
}

func TestSearchToolNoResultsAndBadArgs(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "a.txt", "content\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"zzz-not-there"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != `No results found for "zzz-not-there"` {
		t.Fatalf("Execute() = %q", out)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`)); err == nil {
		t.Fatal("empty query should error")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x","search_type":"bogus"}`)); err == nil {
		t.Fatal("bogus search_type should error")
	}
}

func TestSearchToolSkipsBinaryFiles(t *testing.T) {
	ws, st := newToolEnv(t)
	writeFixture(t, ws, "bin.dat", "needle\x00needle")
	writeFixture(t, ws, "text.txt", "needle\n")

	tool := NewSearchTool(ws, st)
	out, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"needle","search_type":"text"}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if strings.Contains(out, "bin.dat") {
		t.Fatalf("NUL bytes mark a file binary:\n%s", out)
	}
	if !strings.Contains(out, "text.txt") {
		t.Fatalf("text.txt should match:\n%s", out)
	}
}
