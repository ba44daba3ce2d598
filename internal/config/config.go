package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Wire selects which request/stream protocol an endpoint speaks.
const (
	WireAuto      = "auto"
	WireChat      = "chat"
	WireResponses = "responses"
)

// Search modes for server-side search tool attachment.
const (
	SearchOff  = "off"
	SearchAuto = "auto"
	SearchOn   = "on"
)

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	// Wire 指定端点协议（auto/chat/responses）；auto 在启动时按 base_url 判定一次。
	// Wire selects the endpoint protocol (auto/chat/responses); auto is resolved once at startup from base_url.
	Wire        string `json:"wire"`
	SearchModel string `json:"search_model"`
	ImageModel  string `json:"image_model"`
	SearchMode  string `json:"search_mode"`
	TimeoutMS   int    `json:"timeout_ms"`
	MaxRetries  int    `json:"max_retries"`
}

type RuntimeConfig struct {
	WorkspaceRoot     string `json:"workspace_root"`
	MaxRounds         int    `json:"max_rounds"`
	ContextTokenLimit int    `json:"context_token_limit"`
	AutoEdit          bool   `json:"auto_edit"`
}

type SafetyConfig struct {
	CommandTimeoutMS int `json:"command_timeout_ms"`
	OutputLimitBytes int `json:"output_limit_bytes"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

// ModelEntry extends or replaces a built-in model catalog row. An entry with
// an id already present in the catalog replaces that row wholesale.
type ModelEntry struct {
	ID             string   `json:"id"`
	Aliases        []string `json:"aliases,omitempty"`
	ContextWindow  int      `json:"context_window,omitempty"`
	SupportsSearch bool     `json:"supports_search,omitempty"`
	SupportsImage  bool     `json:"supports_image,omitempty"`
}

type Config struct {
	Provider     ProviderConfig `json:"provider"`
	Runtime      RuntimeConfig  `json:"runtime"`
	Safety       SafetyConfig   `json:"safety"`
	Storage      StorageConfig  `json:"storage"`
	Instructions []string       `json:"instructions"`
	Models       []ModelEntry   `json:"models"`
	LogLevel     string         `json:"log_level"`
}

type fileRuntimeConfig struct {
	WorkspaceRoot     *string `json:"workspace_root"`
	MaxRounds         *int    `json:"max_rounds"`
	ContextTokenLimit *int    `json:"context_token_limit"`
	AutoEdit          *bool   `json:"auto_edit"`
}

type fileConfig struct {
	Provider     *ProviderConfig    `json:"provider"`
	Runtime      *fileRuntimeConfig `json:"runtime"`
	Safety       *SafetyConfig      `json:"safety"`
	Storage      *StorageConfig     `json:"storage"`
	Instructions *[]string          `json:"instructions"`
	Models       *[]ModelEntry      `json:"models"`
	LogLevel     *string            `json:"log_level"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    "https://api.x.ai/v1",
			Model:      "grok-code-fast-1",
			Wire:       WireAuto,
			SearchMode: SearchAuto,
			TimeoutMS:  120000,
			MaxRetries: 2,
		},
		Runtime: RuntimeConfig{
			MaxRounds:         DefaultMaxRounds,
			ContextTokenLimit: DefaultContextTokenLimit,
		},
		Safety: SafetyConfig{
			CommandTimeoutMS: 120000,
			OutputLimitBytes: 1 << 20,
		},
		Storage: StorageConfig{
			BaseDir: "~/.smith",
		},
		LogLevel: "info",
	}
}

// Load 按 默认值 → 全局配置 → 项目配置/显式路径 → 环境变量 的顺序叠加配置。
// Load layers configuration: defaults, then global config, then project config
// (or an explicit path), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("SMITH_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".smith", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"smith.config.json",
		".smith/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Runtime != nil {
		if fc.Runtime.WorkspaceRoot != nil {
			cfg.Runtime.WorkspaceRoot = *fc.Runtime.WorkspaceRoot
		}
		if fc.Runtime.MaxRounds != nil {
			cfg.Runtime.MaxRounds = *fc.Runtime.MaxRounds
		}
		if fc.Runtime.ContextTokenLimit != nil {
			cfg.Runtime.ContextTokenLimit = *fc.Runtime.ContextTokenLimit
		}
		if fc.Runtime.AutoEdit != nil {
			cfg.Runtime.AutoEdit = *fc.Runtime.AutoEdit
		}
	}
	if fc.Safety != nil {
		cfg.Safety = mergeSafety(cfg.Safety, *fc.Safety)
	}
	if fc.Storage != nil {
		if strings.TrimSpace(fc.Storage.BaseDir) != "" {
			cfg.Storage.BaseDir = fc.Storage.BaseDir
		}
	}
	if fc.Instructions != nil {
		cfg.Instructions = append([]string(nil), (*fc.Instructions)...)
	}
	if fc.Models != nil {
		cfg.Models = append([]ModelEntry(nil), (*fc.Models)...)
	}
	if fc.LogLevel != nil && strings.TrimSpace(*fc.LogLevel) != "" {
		cfg.LogLevel = *fc.LogLevel
	}
}

func mergeProvider(base ProviderConfig, override ProviderConfig) ProviderConfig {
	if strings.TrimSpace(override.BaseURL) != "" {
		base.BaseURL = override.BaseURL
	}
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if strings.TrimSpace(override.Wire) != "" {
		base.Wire = override.Wire
	}
	if strings.TrimSpace(override.SearchModel) != "" {
		base.SearchModel = override.SearchModel
	}
	if strings.TrimSpace(override.ImageModel) != "" {
		base.ImageModel = override.ImageModel
	}
	if strings.TrimSpace(override.SearchMode) != "" {
		base.SearchMode = override.SearchMode
	}
	if override.TimeoutMS > 0 {
		base.TimeoutMS = override.TimeoutMS
	}
	if override.MaxRetries > 0 {
		base.MaxRetries = override.MaxRetries
	}
	return base
}

func mergeSafety(base SafetyConfig, override SafetyConfig) SafetyConfig {
	if override.CommandTimeoutMS > 0 {
		base.CommandTimeoutMS = override.CommandTimeoutMS
	}
	if override.OutputLimitBytes > 0 {
		base.OutputLimitBytes = override.OutputLimitBytes
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()

	if strings.TrimSpace(cfg.Provider.BaseURL) == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	if strings.TrimSpace(cfg.Provider.Model) == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries <= 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}

	cfg.Provider.Wire = strings.ToLower(strings.TrimSpace(cfg.Provider.Wire))
	switch cfg.Provider.Wire {
	case "":
		cfg.Provider.Wire = WireAuto
	case WireAuto, WireChat, WireResponses:
	default:
		return fmt.Errorf("invalid provider.wire %q (want auto, chat, or responses)", cfg.Provider.Wire)
	}

	cfg.Provider.SearchMode = strings.ToLower(strings.TrimSpace(cfg.Provider.SearchMode))
	switch cfg.Provider.SearchMode {
	case "":
		cfg.Provider.SearchMode = SearchAuto
	case SearchOff, SearchAuto, SearchOn:
	default:
		return fmt.Errorf("invalid provider.search_mode %q (want off, auto, or on)", cfg.Provider.SearchMode)
	}

	if cfg.Runtime.MaxRounds <= 0 {
		cfg.Runtime.MaxRounds = def.Runtime.MaxRounds
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}

	if cfg.Safety.CommandTimeoutMS <= 0 {
		cfg.Safety.CommandTimeoutMS = def.Safety.CommandTimeoutMS
	}
	if cfg.Safety.OutputLimitBytes <= 0 {
		cfg.Safety.OutputLimitBytes = def.Safety.OutputLimitBytes
	}

	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	if storageDir == "" {
		storageDir, err = expandPath(def.Storage.BaseDir)
		if err != nil {
			return err
		}
	}
	cfg.Storage.BaseDir = storageDir

	cfg.Instructions = normalizePaths(cfg.Instructions)
	cfg.Runtime.WorkspaceRoot = strings.TrimSpace(cfg.Runtime.WorkspaceRoot)
	cfg.Models = normalizeModelEntries(cfg.Models)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = def.LogLevel
	}

	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("SMITH_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("XAI_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_WIRE")); v != "" {
		cfg.Provider.Wire = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_SEARCH_MODEL")); v != "" {
		cfg.Provider.SearchModel = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_IMAGE_MODEL")); v != "" {
		cfg.Provider.ImageModel = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_WORKSPACE_ROOT")); v != "" {
		cfg.Runtime.WorkspaceRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_MAX_ROUNDS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid SMITH_MAX_ROUNDS: %q", v)
		}
		cfg.Runtime.MaxRounds = n
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_STORAGE_DIR")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SMITH_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}

	return cfg, normalize(&cfg)
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	seen := map[string]struct{}{}
	for _, p := range paths {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		expanded, err := expandPath(trimmed)
		if err != nil {
			continue
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		out = append(out, expanded)
	}
	return out
}

func normalizeModelEntries(entries []ModelEntry) []ModelEntry {
	out := make([]ModelEntry, 0, len(entries))
	seen := map[string]struct{}{}
	for _, e := range entries {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
