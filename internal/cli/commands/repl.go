package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/datalens/internal/journal"
	"github.com/spf13/cobra"
)

const replPrompt = "datalens> "

// ReplOptions holds options for the repl command.
type ReplOptions struct {
	ShowCode bool
}

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	opts := &ReplOptions{}

	cmd := &cobra.Command{
		Use:   "repl <file>",
		Short: "Ask questions about a data file interactively",
		Long: `Load a data file and start an interactive session.

Every line is a question about the loaded data. Lines starting with a dot
are commands; type .help for the list.`,
		Example: `  datalens repl sales.csv`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			id, prof, err := cc.ingest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			s := &replSession{cc: cc, id: id, showCode: opts.ShowCode}
			return s.run(cmd.Context(), replHistoryFile(cc.Cfg.Journal.Path), prof.Filename, prof.RowCount)
		},
	}

	cmd.Flags().BoolVar(&opts.ShowCode, "show-code", false, "Print the generated analysis code with each answer")

	return cmd
}

// replHistoryFile keeps line history next to the journal; none when the
// journal is disabled or in memory.
func replHistoryFile(journalPath string) string {
	if journalPath == "" || journalPath == journal.MemoryPath {
		return ""
	}
	return filepath.Join(filepath.Dir(journalPath), "repl_history")
}

// replSession is one interactive session over a loaded dataset.
type replSession struct {
	cc       *CommandContext
	id       string
	showCode bool
	lastCode string
}

func (s *replSession) run(ctx context.Context, historyFile, filename string, rows int) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newReplCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r := s.cc.Renderer
	r.Printf("Loaded %s (%d rows, session %s)\n", filename, rows, s.id)
	r.Println("Ask a question, or type .help for commands, .quit to exit")
	r.Println()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if quit := s.handle(ctx, line); quit {
			return nil
		}
	}
}

// handle processes one input line and reports whether the session should end.
func (s *replSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ".") {
		return s.handleDotCommand(ctx, line)
	}

	res := s.cc.Service.Answer(ctx, s.id, line, true)
	if res.Code != nil {
		s.lastCode = *res.Code
	}
	if !s.showCode {
		shown := *res
		shown.Code = nil
		res = &shown
	}
	if err := renderResult(s.cc.Renderer, res); err != nil {
		s.errorf("Error: %v\n", err)
	}
	s.cc.Renderer.Println()
	return false
}

func (s *replSession) handleDotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	r := s.cc.Renderer

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printReplHelp(r.Writer())

	case ".profile":
		prof, err := s.cc.Service.Profile(s.id)
		if err != nil {
			s.errorf("Error: %v\n", err)
			return false
		}
		if err := renderProfile(r, prof); err != nil {
			s.errorf("Error: %v\n", err)
		}

	case ".columns":
		prof, err := s.cc.Service.Profile(s.id)
		if err != nil {
			s.errorf("Error: %v\n", err)
			return false
		}
		for _, c := range prof.Columns {
			r.Printf("%s (%s)\n", c.Name, c.DType)
		}

	case ".history":
		limit := journal.DefaultHistoryLimit
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n <= 0 {
				s.errorf("Usage: .history [n]\n")
				return false
			}
			limit = n
		}
		entries, err := s.cc.Service.History(ctx, s.id, limit)
		if err != nil {
			s.errorf("Error: %v\n", err)
			return false
		}
		if err := renderHistory(r, entries); err != nil {
			s.errorf("Error: %v\n", err)
		}

	case ".code":
		if s.lastCode == "" {
			r.Println("No code generated yet")
			return false
		}
		r.Println(s.lastCode)

	case ".clear":
		_, _ = fmt.Fprint(r.Writer(), "\033[H\033[2J")

	default:
		s.errorf("Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func (s *replSession) errorf(format string, a ...any) {
	_, _ = fmt.Fprintf(s.cc.Renderer.ErrWriter(), format, a...)
}

func printReplHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .profile        Show the dataset profile
  .columns        List columns and their types
  .history [n]    Show the questions asked in this session
  .code           Show the code behind the last answer
  .clear          Clear the screen
  .quit / .exit   Exit the REPL

Anything else is asked as a question about the loaded data.
`
	_, _ = fmt.Fprintln(w, help)
}

func newReplCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".profile"),
		readline.PcItem(".columns"),
		readline.PcItem(".history"),
		readline.PcItem(".code"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
