package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeCommand marks a command rejected before execution because its
// effects cannot be statically validated.
var ErrUnsafeCommand = errors.New("command cannot be statically validated")

var (
	// Dynamic expansions the shell would resolve at run time. The checks are
	// textual and fail closed: a quoted literal that merely looks like an
	// expansion is rejected too.
	dollarBracePattern = regexp.MustCompile(`\$\{`)
	dollarVarPattern   = regexp.MustCompile(`\$[A-Za-z_][A-Za-z0-9_]*[/\\]`)
	percentVarPattern  = regexp.MustCompile(`%[A-Za-z_][A-Za-z0-9_]*%[\\/]`)
	tildePattern       = regexp.MustCompile(`(^|[\s'"=])~([/\\]|\s|$)`)

	dangerousCmdPattern = regexp.MustCompile(`(^|[\s;&|()])(rm|mv|chmod|chown|dd|mkfs|shutdown|reboot)([\s;&|()]|$)`)
	redirectPattern     = regexp.MustCompile(`^([012]?>>?|<|&>>?)`)
)

// Preflight statically validates shell commands before they are handed to
// the interpreter. Anything it cannot prove to stay inside the workspace is
// rejected; the command never spawns.
type Preflight struct {
	ws *Workspace
}

func NewPreflight(ws *Workspace) *Preflight {
	return &Preflight{ws: ws}
}

// Check validates a command against the workspace with cwd as the directory
// the command would run in. A nil return means every path-like token and
// redirection target resolved inside the root and no dynamic expansion was
// present.
func (p *Preflight) Check(cwd, command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil
	}

	if strings.Contains(trimmed, "$(") || strings.Contains(trimmed, "`") {
		return fmt.Errorf("%w: contains command substitution", ErrUnsafeCommand)
	}
	if dollarBracePattern.MatchString(trimmed) {
		return fmt.Errorf("%w: contains ${...} expansion", ErrUnsafeCommand)
	}
	if dollarVarPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: environment variable used as a path", ErrUnsafeCommand)
	}
	if percentVarPattern.MatchString(trimmed) {
		return fmt.Errorf("%w: environment variable used as a path", ErrUnsafeCommand)
	}
	if tildePattern.MatchString(trimmed) {
		return fmt.Errorf("%w: home directory shorthand used as a path", ErrUnsafeCommand)
	}

	tokens, err := parseShellWords(trimmed)
	if err != nil {
		return fmt.Errorf("%w: command parse failed (fail closed): %v", ErrUnsafeCommand, err)
	}

	expectTarget := false
	for _, tok := range tokens {
		if expectTarget {
			expectTarget = false
			if err := p.checkPathToken(cwd, tok); err != nil {
				return err
			}
			continue
		}

		if op := redirectPattern.FindString(tok); op != "" {
			rest := tok[len(op):]
			if rest == "" {
				expectTarget = true
				continue
			}
			// fd duplication like 2>&1 has no path target
			if strings.HasPrefix(rest, "&") {
				continue
			}
			if err := p.checkPathToken(cwd, rest); err != nil {
				return err
			}
			continue
		}

		if strings.HasPrefix(tok, "-") {
			// flags are opaque except for an embedded --opt=path value
			if i := strings.IndexByte(tok, '='); i >= 0 {
				if val := tok[i+1:]; looksLikePath(val) {
					if err := p.checkPathToken(cwd, val); err != nil {
						return err
					}
				}
			}
			continue
		}

		if looksLikePath(tok) {
			if err := p.checkPathToken(cwd, tok); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Preflight) checkPathToken(cwd, tok string) error {
	if tok == "" || strings.HasPrefix(tok, "&") {
		return nil
	}
	if _, err := p.ws.ResolveFrom(cwd, tok); err != nil {
		if errors.Is(err, ErrPathOutsideWorkspace) {
			return fmt.Errorf("token %q: %w", tok, err)
		}
		return fmt.Errorf("%w: token %q: %v", ErrUnsafeCommand, tok, err)
	}
	return nil
}

// looksLikePath reports whether a token should be containment-checked.
// Tokens without separators are names the command resolves itself (argv[0]
// on PATH, plain filenames in cwd); plain filenames cannot leave cwd, so
// only separator-bearing tokens and parent references need a check.
func looksLikePath(tok string) bool {
	if tok == ".." || strings.HasPrefix(tok, "../") || strings.HasPrefix(tok, `..\`) {
		return true
	}
	return strings.ContainsAny(tok, `/\`)
}

// DangerNote returns a short human note for the confirmation prompt when the
// command matches a destructive pattern or overwrites through redirection.
// Empty means nothing noteworthy.
func DangerNote(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	if dangerousCmdPattern.MatchString(trimmed) {
		return "matches destructive command pattern"
	}
	if overwriteRedirect.MatchString(trimmed) {
		return "overwrites a file via redirection"
	}
	return ""
}

var overwriteRedirect = regexp.MustCompile(`(^|\s)(1>|2>|>)(\s*)([^\s>][^\s]*)`)

func parseShellWords(input string) ([]string, error) {
	var (
		out         []string
		cur         strings.Builder
		inSingle    bool
		inDouble    bool
		escaped     bool
		justFlushed bool
	)

	flush := func() {
		if cur.Len() > 0 || justFlushed {
			out = append(out, cur.String())
			cur.Reset()
			justFlushed = false
		}
	}

	for _, r := range input {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			justFlushed = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			justFlushed = true
		case isSpace(r) && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteRune(r)
			justFlushed = false
		}
	}

	if escaped {
		return nil, errors.New("dangling escape")
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unmatched quote")
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out, nil
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n'
}
