// Package bootstrap assembles the runtime object graph in dependency order:
// workspace, store, catalog, provider, session, gate, tools, agent. The
// result is UI-agnostic; the interactive REPL and the one-shot prompt mode
// build on the same Runtime.
package bootstrap

import (
	"fmt"
	"path/filepath"
	"strings"

	"smith/internal/agent"
	"smith/internal/catalog"
	"smith/internal/config"
	"smith/internal/contextmgr"
	"smith/internal/logging"
	"smith/internal/permission"
	"smith/internal/provider"
	"smith/internal/security"
	"smith/internal/session"
	"smith/internal/storage"
	"smith/internal/tools"
)

// Options 是 main 在构建前收集的 UI 层输入
// Options are the UI-level inputs main collects before building.
type Options struct {
	// WorkspaceRoot overrides cfg.Runtime.WorkspaceRoot; empty falls back to
	// the config, then the process cwd resolved by the caller.
	WorkspaceRoot string

	// Model overrides cfg.Provider.Model. Catalog aliases resolve here.
	Model string

	// AutoEdit forces auto-edit on regardless of config or a resumed
	// session's saved flag.
	AutoEdit bool

	// Resume restores the named session instead of creating a fresh one.
	Resume string

	// Confirm answers the gate's confirmation requests. nil means no
	// interactive channel: side effects are declined (one-shot mode).
	Confirm permission.ConfirmFunc
}

// Runtime is the built object graph. The caller owns Close.
type Runtime struct {
	Config    config.Config
	Workspace *security.Workspace
	Preflight *security.Preflight
	Store     storage.Store
	Catalog   *catalog.Catalog
	Provider  *provider.Client
	Registry  *tools.Registry
	Gate      *permission.Gate
	State     *session.State
	Agent     *agent.Agent
}

// Build wires everything up. On error nothing is left open.
func Build(cfg config.Config, opts Options) (*Runtime, error) {
	root := strings.TrimSpace(opts.WorkspaceRoot)
	if root == "" {
		root = strings.TrimSpace(cfg.Runtime.WorkspaceRoot)
	}
	ws, err := security.NewWorkspace(root)
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}

	store, err := storage.NewSQLiteStore(filepath.Join(cfg.Storage.BaseDir, "smith.db"))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	cat := catalog.New()
	if err := cat.LoadOverrides(filepath.Join(cfg.Storage.BaseDir, "models.yaml")); err != nil {
		store.Close()
		return nil, err
	}
	cat.Apply(modelEntries(cfg.Models))

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = cfg.Provider.Model
	}
	if info := cat.Lookup(model); info != nil {
		model = info.ID
	}
	provCfg := cfg.Provider
	provCfg.Model = model
	providerClient := provider.NewClient(provCfg, cat)

	st := session.New(storage.NewSessionID(), model, ws.Root())
	st.SetAutoEdit(cfg.Runtime.AutoEdit)
	if resumeID := strings.TrimSpace(opts.Resume); resumeID != "" {
		if err := restoreSession(store, ws, st, resumeID); err != nil {
			store.Close()
			return nil, err
		}
		if st.Model != "" {
			providerClient.SetModel(st.Model)
		}
	} else {
		meta := storage.SessionMeta{
			ID:       st.ID,
			Model:    model,
			CWD:      ws.Root(),
			AutoEdit: st.AutoEdit(),
		}
		if err := store.CreateSession(meta); err != nil {
			store.Close()
			return nil, fmt.Errorf("create session: %w", err)
		}
	}
	if opts.AutoEdit {
		st.SetAutoEdit(true)
	}

	gate := permission.NewGate(opts.Confirm, st.AutoEdit)
	if st.AutoEdit() {
		gate.AllowAll()
	}

	pf := security.NewPreflight(ws)
	registry := tools.NewRegistry(
		tools.NewViewTool(ws, st),
		tools.NewCreateTool(ws, st),
		tools.NewReplaceTool(ws, st),
		tools.NewSearchTool(ws, st),
		tools.NewBashTool(ws, pf, st, cfg.Safety.CommandTimeoutMS, cfg.Safety.OutputLimitBytes),
		tools.NewTodoCreateTool(st),
		tools.NewTodoUpdateTool(st),
	)

	ag := agent.New(agent.Options{
		Provider:  providerClient,
		Registry:  registry,
		Gate:      gate,
		State:     st,
		Assembler: contextmgr.NewAssembler(ws.Root(), cfg.Instructions),
		Tokenizer: contextmgr.NewTokenizerForModel(model),
		MaxRounds: cfg.Runtime.MaxRounds,
	})

	logging.Info("runtime ready",
		"workspace", ws.Root(), "model", model,
		"session", st.ID, "tools", len(registry.Names()))

	return &Runtime{
		Config:    cfg,
		Workspace: ws,
		Preflight: pf,
		Store:     store,
		Catalog:   cat,
		Provider:  providerClient,
		Registry:  registry,
		Gate:      gate,
		State:     st,
		Agent:     ag,
	}, nil
}

// Close releases the event channel and the store.
func (rt *Runtime) Close() {
	rt.Agent.Close()
	if err := rt.Store.Close(); err != nil {
		logging.Warn("close store", "err", err)
	}
}

// restoreSession loads a saved session into the live state. A cwd recorded
// under a different workspace root falls back to this one.
func restoreSession(store storage.Store, ws *security.Workspace, st *session.State, id string) error {
	meta, err := store.LoadSession(id)
	if err != nil {
		return err
	}
	msgs, err := store.LoadMessages(id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	todos, err := store.ListTodos(id)
	if err != nil {
		return fmt.Errorf("load todos: %w", err)
	}
	cwd := meta.CWD
	if _, rerr := ws.Resolve(cwd); rerr != nil {
		cwd = ws.Root()
	}
	st.Reset(meta.ID, meta.Title, meta.Model, cwd, meta.AutoEdit, msgs, todos)
	return nil
}

func modelEntries(entries []config.ModelEntry) []catalog.ModelInfo {
	out := make([]catalog.ModelInfo, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			continue
		}
		out = append(out, catalog.ModelInfo{
			ID:             e.ID,
			ContextWindow:  e.ContextWindow,
			SupportsSearch: e.SupportsSearch,
			SupportsImage:  e.SupportsImage,
			Aliases:        e.Aliases,
		})
	}
	return out
}
