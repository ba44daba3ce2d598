package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"smith/internal/chat"
	"smith/internal/security"
	"smith/internal/session"
)

const (
	searchDefaultResults = 50
	searchResultCeiling  = 200
	searchDisplayLimit   = 8
	searchMaxFileBytes   = 1 << 20
	searchMaxFiles       = 20000
)

// SearchTool merges content search and filename search over the workspace
// in one bounded walk. Content matches count matching lines per file;
// filename matches are scored so exact and substring hits outrank loose
// subsequence hits.
type SearchTool struct {
	ws *security.Workspace
	st *session.State
}

func NewSearchTool(ws *security.Workspace, st *session.State) *SearchTool {
	return &SearchTool{ws: ws, st: st}
}

func (t *SearchTool) Name() string {
	return "search"
}

func (t *SearchTool) Definition() chat.ToolDef {
	return chat.ToolDef{
		Type: "function",
		Function: chat.ToolFunction{
			Name:        t.Name(),
			Description: "Unified search for text content and files",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "Text query or file name pattern"},
					"search_type": map[string]any{
						"type":        "string",
						"enum":        []string{"text", "files", "both"},
						"description": "Search mode (default: both)",
					},
					"include_pattern": map[string]any{"type": "string", "description": "Optional include glob pattern"},
					"exclude_pattern": map[string]any{"type": "string", "description": "Optional exclude glob pattern"},
					"case_sensitive":  map[string]any{"type": "boolean", "description": "Enable case sensitive text matching"},
					"whole_word":      map[string]any{"type": "boolean", "description": "Match whole words only for text search"},
					"regex":           map[string]any{"type": "boolean", "description": "Treat query as regex for text search"},
					"max_results":     map[string]any{"type": "number", "description": "Maximum number of results"},
					"file_types": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional file type filters (e.g. ['go', 'ts'])",
					},
					"include_hidden": map[string]any{"type": "boolean", "description": "Include hidden files"},
				},
				"required": []string{"query"},
			},
		},
	}
}

type searchArgs struct {
	Query          string   `json:"query"`
	SearchType     string   `json:"search_type"`
	IncludePattern string   `json:"include_pattern"`
	ExcludePattern string   `json:"exclude_pattern"`
	CaseSensitive  bool     `json:"case_sensitive"`
	WholeWord      bool     `json:"whole_word"`
	Regex          bool     `json:"regex"`
	MaxResults     int      `json:"max_results"`
	FileTypes      []string `json:"file_types"`
	IncludeHidden  bool     `json:"include_hidden"`
}

type searchEntry struct {
	path    string
	matches int
	score   int
}

func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in searchArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return "", fmt.Errorf("search args: %w", err)
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", errors.New("Missing or empty 'query' argument")
	}
	searchType := strings.ToLower(strings.TrimSpace(in.SearchType))
	if searchType == "" {
		searchType = "both"
	}
	if searchType != "text" && searchType != "files" && searchType != "both" {
		return "", errors.New("Invalid search_type. Expected one of: text, files, both")
	}
	maxResults := in.MaxResults
	if maxResults <= 0 {
		maxResults = searchDefaultResults
	}
	if maxResults > searchResultCeiling {
		maxResults = searchResultCeiling
	}

	base := t.st.Cwd()
	files, err := t.collectFiles(ctx, base, in)
	if err != nil {
		return "", err
	}

	var entries []searchEntry
	index := map[string]int{}

	if searchType == "text" || searchType == "both" {
		match, err := buildLineMatcher(in, query)
		if err != nil {
			return "", err
		}
		total := 0
		for _, rel := range files {
			if total >= maxResults {
				break
			}
			if err := ctx.Err(); err != nil {
				return "", err
			}
			count := countMatchingLines(filepath.Join(base, rel), match, maxResults)
			if count == 0 {
				continue
			}
			if total+count > maxResults {
				count = maxResults - total
			}
			total += count
			index[rel] = len(entries)
			entries = append(entries, searchEntry{path: rel, matches: count})
		}
	}

	if searchType == "files" || searchType == "both" {
		pattern := strings.ToLower(query)
		var named []searchEntry
		for _, rel := range files {
			score := fileScore(path.Base(rel), rel, pattern)
			if score <= 0 {
				continue
			}
			if i, ok := index[rel]; ok {
				entries[i].score = score
				continue
			}
			named = append(named, searchEntry{path: rel, score: score})
		}
		sort.Slice(named, func(i, j int) bool {
			if named[i].score != named[j].score {
				return named[i].score > named[j].score
			}
			return named[i].path < named[j].path
		})
		if len(named) > maxResults {
			named = named[:maxResults]
		}
		entries = append(entries, named...)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].matches != entries[j].matches {
			return entries[i].matches > entries[j].matches
		}
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].path < entries[j].path
	})

	return formatSearchResults(query, entries), nil
}

// collectFiles walks the tree under base once, applying the default skips
// (.git, node_modules, hidden unless requested, logs) and the caller's glob
// and file-type filters. The walk is bounded so a huge tree cannot stall a
// turn.
func (t *SearchTool) collectFiles(ctx context.Context, base string, in searchArgs) ([]string, error) {
	var files []string
	walkErr := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		name := d.Name()
		if d.IsDir() {
			if p == base {
				return nil
			}
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			if !in.IncludeHidden && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !in.IncludeHidden && strings.HasPrefix(name, ".") {
			return nil
		}
		if name == ".DS_Store" || strings.HasSuffix(name, ".log") {
			return nil
		}
		rel, relErr := filepath.Rel(base, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchesFilters(rel, in) {
			return nil
		}
		files = append(files, rel)
		if len(files) >= searchMaxFiles {
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.SkipAll) {
		return nil, fmt.Errorf("walk workspace: %w", walkErr)
	}
	return files, nil
}

func matchesFilters(rel string, in searchArgs) bool {
	if in.IncludePattern != "" && !matchGlob(in.IncludePattern, rel) {
		return false
	}
	if in.ExcludePattern != "" && matchGlob(in.ExcludePattern, rel) {
		return false
	}
	if len(in.FileTypes) == 0 {
		return true
	}
	ext := strings.TrimPrefix(path.Ext(rel), ".")
	for _, ft := range in.FileTypes {
		want := strings.TrimPrefix(strings.TrimSpace(ft), ".")
		if want != "" && strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// matchGlob applies ripgrep-style glob semantics: a pattern without a
// separator matches the base name, one with a separator matches the
// root-relative path.
func matchGlob(pattern, rel string) bool {
	target := rel
	if !strings.Contains(pattern, "/") {
		target = path.Base(rel)
	}
	ok, err := doublestar.Match(pattern, target)
	return err == nil && ok
}

func buildLineMatcher(in searchArgs, query string) (func(string) bool, error) {
	if in.Regex || in.WholeWord {
		expr := query
		if !in.Regex {
			expr = regexp.QuoteMeta(query)
		}
		if in.WholeWord {
			expr = `\b(?:` + expr + `)\b`
		}
		if !in.CaseSensitive {
			expr = `(?i)` + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid search pattern: %v", err)
		}
		return re.MatchString, nil
	}
	if in.CaseSensitive {
		return func(line string) bool { return strings.Contains(line, query) }, nil
	}
	lower := strings.ToLower(query)
	return func(line string) bool { return strings.Contains(strings.ToLower(line), lower) }, nil
}

// countMatchingLines counts lines matching in one file, up to limit. Files
// that are oversized, unreadable or binary count as zero.
func countMatchingLines(abs string, match func(string) bool, limit int) int {
	info, err := os.Stat(abs)
	if err != nil || info.Size() > searchMaxFileBytes {
		return 0
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return 0
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return 0
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if match(line) {
			count++
			if count >= limit {
				break
			}
		}
	}
	return count
}

func fileScore(fileName, filePath, pattern string) int {
	lowerName := strings.ToLower(fileName)
	lowerPath := strings.ToLower(filePath)
	if lowerName == pattern {
		return 100
	}
	if strings.Contains(lowerName, pattern) {
		return 80
	}
	if strings.Contains(lowerPath, pattern) {
		return 60
	}

	patternRunes := []rune(pattern)
	idx := 0
	for _, ch := range lowerName {
		if idx < len(patternRunes) && ch == patternRunes[idx] {
			idx++
		}
	}
	if idx != len(patternRunes) {
		return 0
	}
	score := 40 - (len([]rune(lowerName)) - len(patternRunes))
	if score < 10 {
		score = 10
	}
	return score
}

func formatSearchResults(query string, entries []searchEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("No results found for %q", query)
	}
	lines := []string{fmt.Sprintf("Search results for %q:", query)}
	shown := entries
	if len(shown) > searchDisplayLimit {
		shown = shown[:searchDisplayLimit]
	}
	for _, e := range shown {
		if e.matches > 0 {
			lines = append(lines, fmt.Sprintf("  %s (%d matches)", e.path, e.matches))
		} else {
			lines = append(lines, "  "+e.path)
		}
	}
	if len(entries) > searchDisplayLimit {
		lines = append(lines, fmt.Sprintf("  ... +%d more", len(entries)-searchDisplayLimit))
	}
	return strings.Join(lines, "\n")
}
