package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"smith/internal/agent"
	"smith/internal/bootstrap"
	"smith/internal/config"
	"smith/internal/logging"
	"smith/internal/repl"
	"smith/internal/storage"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	cfgFile   string
	directory string
	model     string
	autoEdit  bool
	resume    string
	prompt    string
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smith",
		Short: "Autonomous coding agent for the terminal",
		Long: `Smith is a terminal coding agent. It talks to an OpenAI-compatible
endpoint, edits files and runs commands inside a sandboxed workspace, and
asks for confirmation before anything destructive.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ~/.smith and the project)")
	rootCmd.PersistentFlags().StringVarP(&directory, "directory", "C", "", "workspace root (default is the current directory)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model id or alias to use")
	rootCmd.PersistentFlags().BoolVar(&autoEdit, "auto-edit", false, "run file edits and commands without confirmation")
	rootCmd.PersistentFlags().StringVar(&resume, "resume", "", "session id to resume")
	rootCmd.PersistentFlags().StringVarP(&prompt, "prompt", "p", "", "run one turn non-interactively and exit")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("smith version %s\n", version)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a project config scaffold under ./.smith",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitProjectConfigScaffold(); err != nil {
				return err
			}
			fmt.Println("project config ready at ./.smith/config.json")
			return nil
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "smith: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if strings.TrimSpace(logLevel) != "" {
		cfg.LogLevel = logLevel
	}
	if err := logging.OpenFile(cfg.Storage.BaseDir, logging.ParseLevel(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "log file unavailable: %v\n", err)
	}
	defer logging.Close()

	root, err := resolveWorkspaceRoot(directory, cfg)
	if err != nil {
		return err
	}

	if strings.TrimSpace(prompt) != "" {
		return runOnce(cfg, root, prompt)
	}
	return runInteractive(cfg, root)
}

// resolveWorkspaceRoot 决定工作区根：命令行覆盖 > 配置 > 当前目录
// resolveWorkspaceRoot picks the workspace root: flag override, then config,
// then the current directory.
func resolveWorkspaceRoot(override string, cfg config.Config) (string, error) {
	if root := strings.TrimSpace(override); root != "" {
		return root, nil
	}
	if root := strings.TrimSpace(cfg.Runtime.WorkspaceRoot); root != "" {
		return root, nil
	}
	root, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve cwd: %w", err)
	}
	return root, nil
}

func runInteractive(cfg config.Config, root string) error {
	bridge := repl.NewConfirmBridge()
	rt, err := bootstrap.Build(cfg, bootstrap.Options{
		WorkspaceRoot: root,
		Model:         model,
		AutoEdit:      autoEdit,
		Resume:        resume,
		Confirm:       bridge.Ask,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	return repl.New(rt, bridge, version).Run(context.Background())
}

// runOnce executes a single turn without the prompt loop. No confirmation
// channel exists in this mode, so side effects are declined unless
// --auto-edit was given.
func runOnce(cfg config.Config, root, input string) error {
	rt, err := bootstrap.Build(cfg, bootstrap.Options{
		WorkspaceRoot: root,
		Model:         model,
		AutoEdit:      autoEdit,
		Resume:        resume,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	outcome := rt.Agent.RunTurn(ctx, input)
	persist(rt)

	if text := strings.TrimSpace(outcome.FinalText); text != "" {
		fmt.Println(text)
	}
	if outcome.Status == agent.StatusFailed {
		if outcome.Err != nil {
			return outcome.Err
		}
		return errors.New("turn failed")
	}
	return nil
}

func persist(rt *bootstrap.Runtime) {
	st := rt.State
	meta := storage.SessionMeta{
		ID:       st.ID,
		Title:    st.Title,
		Model:    rt.Provider.CurrentModel(),
		CWD:      st.Cwd(),
		AutoEdit: st.AutoEdit(),
	}
	if err := rt.Store.SaveSession(meta); err != nil {
		logging.Warn("save session failed", "session", st.ID, "err", err)
	}
	if err := rt.Store.SaveMessages(st.ID, st.Messages); err != nil {
		logging.Warn("save messages failed", "session", st.ID, "err", err)
	}
	if err := rt.Store.ReplaceTodos(st.ID, st.Todos); err != nil {
		logging.Warn("save todos failed", "session", st.ID, "err", err)
	}
}
