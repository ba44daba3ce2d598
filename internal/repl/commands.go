package repl

import (
	"fmt"
	"strings"
	"time"

	"smith/internal/config"
	"smith/internal/session"
	"smith/internal/storage"
	"smith/internal/tui"
)

type replCommand struct {
	name string
	help string
}

var replCommands = []replCommand{
	{"/help", "show this help"},
	{"/new", "start a fresh session"},
	{"/sessions", "list saved sessions"},
	{"/resume", "/resume <id> loads a saved session"},
	{"/model", "show the model catalog or switch: /model <name>"},
	{"/auto-edit", "toggle confirmation-free edits and commands"},
	{"/todos", "show the session todo list"},
	{"/clear", "wipe the current history"},
	{"/exit", "save and quit"},
}

// handleCommand dispatches one slash command; true means the REPL should
// exit.
func (r *REPL) handleCommand(input string) bool {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true
	case "/help":
		r.printHelp()
	case "/new":
		r.startNewSession()
	case "/sessions":
		r.listSessions()
	case "/resume":
		if len(args) == 0 {
			r.println("usage: /resume <session-id>")
			break
		}
		r.resumeSession(args[0])
	case "/model":
		if len(args) == 0 {
			r.listModels()
			break
		}
		r.setModel(strings.Join(args, " "))
	case "/auto-edit":
		r.toggleAutoEdit(args)
	case "/todos":
		r.println(session.FormatTodos(r.rt.State.Todos))
	case "/clear":
		r.clearHistory()
	default:
		r.println("unknown command: " + cmd + " (try /help)")
	}
	return false
}

func (r *REPL) printHelp() {
	var b strings.Builder
	b.WriteString("commands:\n")
	for _, cmd := range replCommands {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", cmd.name, cmd.help))
	}
	b.WriteString("  !<command>   run a shell line in the workspace sandbox\n")
	b.WriteString("  @<path>      attach a file to the next message (images included)\n")
	b.WriteString("keys: ctrl+c cancels a running turn, ctrl+d exits")
	r.println(b.String())
}

func (r *REPL) startNewSession() {
	st := r.rt.State
	id := storage.NewSessionID()
	st.Reset(id, "", r.rt.Provider.CurrentModel(), r.rt.Workspace.Root(), st.AutoEdit(), nil, nil)
	// remembered approve-always answers do not carry across sessions
	r.rt.Gate.Reset()
	r.persisted = 0
	if err := r.rt.Store.CreateSession(r.currentMeta()); err != nil {
		r.println(r.theme.ErrorStyle.Render("create session: " + err.Error()))
		return
	}
	r.println("session " + id)
}

func (r *REPL) listSessions() {
	metas, err := r.rt.Store.ListSessions()
	if err != nil {
		r.println(r.theme.ErrorStyle.Render("list sessions: " + err.Error()))
		return
	}
	if len(metas) == 0 {
		r.println("(no saved sessions)")
		return
	}
	r.println(formatSessionList(metas, r.rt.State.ID))
}

// formatSessionList renders one session per line, newest first, the active
// one marked with *.
func formatSessionList(metas []storage.SessionMeta, activeID string) string {
	var b strings.Builder
	for i, m := range metas {
		if i > 0 {
			b.WriteByte('\n')
		}
		marker := "  "
		if m.ID == activeID {
			marker = "* "
		}
		title := strings.TrimSpace(m.Title)
		if title == "" {
			title = "(untitled)"
		}
		if runes := []rune(title); len(runes) > 48 {
			title = string(runes[:48]) + "…"
		}
		b.WriteString(fmt.Sprintf("%s%s  %s  %-18s %s", marker, m.ID, shortTime(m.UpdatedAt), m.Model, title))
	}
	return b.String()
}

func shortTime(rfc3339 string) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	return t.Local().Format("2006-01-02 15:04")
}

func (r *REPL) resumeSession(id string) {
	meta, err := r.rt.Store.LoadSession(id)
	if err != nil {
		r.println(r.theme.ErrorStyle.Render(err.Error()))
		return
	}
	msgs, err := r.rt.Store.LoadMessages(id)
	if err != nil {
		r.println(r.theme.ErrorStyle.Render("load messages: " + err.Error()))
		return
	}
	todos, err := r.rt.Store.ListTodos(id)
	if err != nil {
		r.println(r.theme.ErrorStyle.Render("load todos: " + err.Error()))
		return
	}

	// a session saved under another root keeps its history but the cwd
	// falls back to this workspace
	cwd := meta.CWD
	if _, rerr := r.rt.Workspace.Resolve(cwd); rerr != nil {
		cwd = r.rt.Workspace.Root()
	}

	r.rt.State.Reset(meta.ID, meta.Title, meta.Model, cwd, meta.AutoEdit, msgs, todos)
	if meta.Model != "" {
		r.rt.Provider.SetModel(meta.Model)
	}
	r.rt.Gate.Reset()
	r.persisted = len(msgs)
	r.println(fmt.Sprintf("resumed %s (%d messages)", meta.ID, len(msgs)))
}

func (r *REPL) listModels() {
	current := r.rt.Provider.CurrentModel()
	var b strings.Builder
	for i, info := range r.rt.Catalog.List() {
		if i > 0 {
			b.WriteByte('\n')
		}
		marker := "  "
		if info.ID == current {
			marker = "* "
		}
		caps := make([]string, 0, 2)
		if info.SupportsSearch {
			caps = append(caps, "search")
		}
		if info.SupportsImage {
			caps = append(caps, "image")
		}
		line := fmt.Sprintf("%s%-20s %s ctx", marker, info.ID, tui.FormatTokens(info.ContextWindow))
		if len(caps) > 0 {
			line += " · " + strings.Join(caps, ", ")
		}
		if len(info.Aliases) > 0 {
			line += " · aka " + strings.Join(info.Aliases, ", ")
		}
		b.WriteString(line)
	}
	r.println(b.String())
	r.println(r.theme.MutedStyle.Render("switch with /model <name>"))
}

func (r *REPL) setModel(name string) {
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" {
		r.println("usage: /model <name>")
		return
	}
	target := name
	if info := r.rt.Catalog.Lookup(name); info != nil {
		target = info.ID
	} else {
		r.println(r.theme.MutedStyle.Render("model not in catalog, using as given: " + name))
	}
	r.rt.Provider.SetModel(target)
	r.rt.State.Model = target
	// 写入项目配置，下次启动沿用 / persist to project config for the next launch
	if err := config.WriteProviderModel(r.rt.Workspace.Root(), target); err != nil {
		r.println("model set to " + target + " (project config not saved: " + err.Error() + ")")
		return
	}
	r.println("model set to " + target)
}

func (r *REPL) toggleAutoEdit(args []string) {
	st := r.rt.State
	next := !st.AutoEdit()
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on", "true", "1":
			next = true
		case "off", "false", "0":
			next = false
		default:
			r.println("usage: /auto-edit [on|off]")
			return
		}
	}
	st.SetAutoEdit(next)
	if next {
		r.rt.Gate.AllowAll()
		r.println("auto-edit on: file edits and commands run without confirmation")
	} else {
		r.rt.Gate.Reset()
		r.println("auto-edit off: side effects ask for confirmation again")
	}
}

func (r *REPL) clearHistory() {
	st := r.rt.State
	st.ClearMessages()
	if err := r.rt.Store.SaveMessages(st.ID, nil); err != nil {
		r.println(r.theme.ErrorStyle.Render("clear messages: " + err.Error()))
	}
	if err := r.rt.Store.ReplaceTodos(st.ID, nil); err != nil {
		r.println(r.theme.ErrorStyle.Render("clear todos: " + err.Error()))
	}
	r.persisted = 0
	r.println("history cleared")
}
