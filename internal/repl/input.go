package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
)

// lineReader 抽象行输入，便于在无 TTY 时退回普通 reader
// lineReader abstracts line input so the loop can fall back to a plain
// reader when no TTY is available.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

type basicLineReader struct {
	reader *bufio.Reader
	out    io.Writer
}

func newBasicLineReader(in io.Reader, out io.Writer) *basicLineReader {
	return &basicLineReader{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

func (b *basicLineReader) ReadLine(prompt string) (string, error) {
	if b.out != nil {
		fmt.Fprint(b.out, prompt)
	}
	line, err := b.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (b *basicLineReader) Close() error { return nil }

type readlineReader struct {
	instance *readline.Instance
}

func newReadlineReader(historyPath string) (*readlineReader, error) {
	if historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	instance, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyPath,
		HistorySearchFold: true,
		InterruptPrompt:   "^C",
		AutoComplete:      slashCompleter(),
	})
	if err != nil {
		return nil, err
	}
	return &readlineReader{instance: instance}, nil
}

func slashCompleter() readline.AutoCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(replCommands))
	for _, cmd := range replCommands {
		items = append(items, readline.PcItem(cmd.name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (r *readlineReader) ReadLine(prompt string) (string, error) {
	r.instance.SetPrompt(prompt)
	return r.instance.Readline()
}

func (r *readlineReader) Close() error {
	if r == nil || r.instance == nil {
		return nil
	}
	return r.instance.Close()
}

// newLineReader prefers readline (history, line editing); when it cannot
// initialize, the basic reader takes over and the error is reported so the
// caller can log the downgrade.
func newLineReader(historyPath string) (lineReader, error) {
	rl, err := newReadlineReader(historyPath)
	if err == nil {
		return rl, nil
	}
	return newBasicLineReader(os.Stdin, os.Stdout), err
}
