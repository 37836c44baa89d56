package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dotsetgreg/tutormem/pkg/agent"
)

type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

type shellSession struct {
	builder  *agent.TurnContextBuilder
	clientID string
	session  string
	out      io.Writer
}

func newReadline(out io.Writer) (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:          learnerPrompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".tutormem_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdout:          out,
	})
}

const (
	learnerPrompt = appName + " learner> "
	tutorPrompt   = appName + " tutor> "
)

// run drives the practice loop. Plain lines are learner messages: the
// assembled teaching context is printed and the next line is taken as the
// tutor's reply. Lines starting with "/" are shell commands.
func (s *shellSession) run(ctx context.Context, rl lineReader) error {
	fmt.Fprintf(s.out, "Session %s for %s. Type /help for commands.\n", s.session, s.clientID)
	for {
		rl.SetPrompt(learnerPrompt)
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			return err
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			done, err := s.command(ctx, input)
			if err != nil {
				fmt.Fprintf(s.out, "Error: %v\n", err)
			}
			if done {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			continue
		}

		tc := s.builder.Prepare(ctx, s.clientID, s.session, input)
		fmt.Fprintf(s.out, "\n%s\n\n", tc.Render())

		rl.SetPrompt(tutorPrompt)
		reply, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			return err
		}
		if err := s.builder.Complete(ctx, tc, strings.TrimSpace(reply)); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func (s *shellSession) command(ctx context.Context, input string) (bool, error) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	arg = strings.TrimSpace(arg)
	mem := s.builder.Memory()

	switch strings.ToLower(name) {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, "/topic <name>   switch the session topic")
		fmt.Fprintln(s.out, "/topic          show the current topic")
		fmt.Fprintln(s.out, "/summary        show the learner summary")
		fmt.Fprintln(s.out, "/review         suggest sections to review")
		fmt.Fprintln(s.out, "/quit           leave the shell")
		return false, nil
	case "topic":
		if arg == "" {
			seg, found, err := mem.CurrentTopic(ctx, s.clientID, s.session)
			if err != nil {
				return false, err
			}
			if !found {
				fmt.Fprintln(s.out, "No topic yet.")
				return false, nil
			}
			return false, s.printJSON(seg)
		}
		if err := s.builder.SetTopic(ctx, s.clientID, s.session, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "Topic set to %q\n", arg)
		return false, nil
	case "summary":
		summary, err := mem.GetMemorySummary(ctx, s.clientID)
		if err != nil {
			return false, err
		}
		return false, s.printJSON(summary)
	case "review":
		items, err := mem.SuggestReviewContent(ctx, s.clientID)
		if err != nil {
			return false, err
		}
		return false, s.printJSON(items)
	default:
		return false, fmt.Errorf("unknown command %q", name)
	}
}

func (s *shellSession) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}
