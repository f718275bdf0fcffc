package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/odvcencio/backchannel/pkg/backchannel/console"
	"github.com/odvcencio/backchannel/pkg/bridge"
)

const (
	promptMarker        = "> "
	defaultHistoryLimit = 20
)

// conversationalist captures the bridge surface the REPL drives. It
// enables unit-testing the command loop without a live browser.
type conversationalist interface {
	Ask(ctx context.Context, message string) string
	AskStream(ctx context.Context, prompt string) <-chan string
	RefreshSession(ctx context.Context) error
	SessionUsable() bool
	NewConversation()
	SwitchToConversation(ctx context.Context, id string) error
	GetHistory(ctx context.Context, limit, offset int) (map[string]any, error)
	DeleteConversation(ctx context.Context, id string) error
	Model() string
	SetModel(model string) error
	ConversationID() string
}

var _ conversationalist = (*bridge.Bridge)(nil)

// repl is the interactive conversation loop.
type repl struct {
	bridge conversationalist
	out    *console.Console
	in     io.Reader
	stream bool
}

func runREPL(ctx context.Context, out *console.Console, b *bridge.Bridge, stream bool) error {
	r := &repl{bridge: b, out: out, in: os.Stdin, stream: stream}
	return r.run(ctx)
}

func (r *repl) run(ctx context.Context) error {
	r.out.Println("backchannel " + version + " - type a message, or !help for commands.")

	scanner := bufio.NewScanner(r.in)
	for {
		r.out.Prompt(promptMarker)
		if !scanner.Scan() {
			// EOF ends the session the same way !exit does.
			r.out.Println("")
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "!") {
			quit, err := r.handleCommand(ctx, line)
			if err != nil {
				r.out.Error(err.Error())
			}
			if quit {
				return nil
			}
			continue
		}

		r.turn(ctx, line)
	}
}

// turn runs one conversation exchange and prints the response.
func (r *repl) turn(ctx context.Context, prompt string) {
	if r.stream {
		for chunk := range r.bridge.AskStream(ctx, prompt) {
			r.out.Stream(chunk)
		}
		r.out.StreamEnd()
		return
	}
	r.out.Println(r.bridge.Ask(ctx, prompt))
	r.out.Println("")
}

// handleCommand executes one !-command line. The returned bool reports
// whether the REPL should exit.
func (r *repl) handleCommand(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]

	switch command {
	case "!help":
		r.printCommands()
		return false, nil

	case "!exit", "!quit":
		return true, nil

	case "!new":
		r.bridge.NewConversation()
		r.out.Success("Started a fresh conversation.")
		return false, nil

	case "!switch":
		if len(args) != 1 {
			return false, errors.New("usage: !switch <conversation-id>")
		}
		if err := r.bridge.SwitchToConversation(ctx, args[0]); err != nil {
			return false, err
		}
		r.out.Successf("Continuing conversation %s.", args[0])
		return false, nil

	case "!history":
		limit, offset, err := parseHistoryArgs(args)
		if err != nil {
			return false, err
		}
		return false, r.printHistory(ctx, limit, offset)

	case "!delete":
		id := ""
		if len(args) > 0 {
			id = args[0]
		}
		if id == "" && r.bridge.ConversationID() == "" {
			r.out.Warning("No current conversation to delete.")
			return false, nil
		}
		if err := r.bridge.DeleteConversation(ctx, id); err != nil {
			return false, err
		}
		if id == "" {
			r.bridge.NewConversation()
			r.out.Success("Deleted the current conversation.")
		} else {
			r.out.Successf("Deleted conversation %s.", id)
		}
		return false, nil

	case "!session":
		if err := r.bridge.RefreshSession(ctx); err != nil {
			return false, err
		}
		if r.bridge.SessionUsable() {
			r.out.Success("Session refreshed and usable.")
		} else {
			r.out.Warning("Session refreshed but carries no access token; log in with the `install` command.")
		}
		return false, nil

	case "!model":
		if len(args) == 0 {
			r.out.Infof("Current model: %s", r.bridge.Model())
			return false, nil
		}
		if err := r.bridge.SetModel(args[0]); err != nil {
			return false, err
		}
		r.out.Successf("Model switched to %s.", args[0])
		return false, nil

	case "!stream":
		r.stream = !r.stream
		if r.stream {
			r.out.Info("Streaming output on.")
		} else {
			r.out.Info("Streaming output off.")
		}
		return false, nil
	}

	return false, fmt.Errorf("unknown command %s (try !help)", command)
}

func parseHistoryArgs(args []string) (limit, offset int, err error) {
	limit = defaultHistoryLimit
	if len(args) > 2 {
		return 0, 0, errors.New("usage: !history [limit [offset]]")
	}
	if len(args) >= 1 {
		limit, err = strconv.Atoi(args[0])
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("limit %q is not a positive number", args[0])
		}
	}
	if len(args) == 2 {
		offset, err = strconv.Atoi(args[1])
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset %q is not a number", args[1])
		}
	}
	return limit, offset, nil
}

func (r *repl) printHistory(ctx context.Context, limit, offset int) error {
	history, err := r.bridge.GetHistory(ctx, limit, offset)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		r.out.Info("No conversations found.")
		return nil
	}

	ids := make([]string, 0, len(history))
	for id := range history {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	r.out.Header("History")
	for _, id := range ids {
		title := ""
		if entry, ok := history[id].(map[string]any); ok {
			title, _ = entry["title"].(string)
		}
		if title == "" {
			title = "(untitled)"
		}
		r.out.Printf("  %s  %s\n", id, title)
	}
	return nil
}

func (r *repl) printCommands() {
	r.out.Println("Commands:")
	r.out.Println("  !new                       Start a fresh conversation")
	r.out.Println("  !switch <id>               Continue an existing conversation")
	r.out.Println("  !history [limit [offset]]  List recent conversations")
	r.out.Println("  !delete [id]               Hide a conversation (current one when no id)")
	r.out.Println("  !session                   Refresh the login session and report its state")
	r.out.Println("  !model [key]               Show or switch the model key")
	r.out.Println("  !stream                    Toggle streaming output")
	r.out.Println("  !exit, !quit               Leave the REPL")
	r.out.Println("Anything else is sent to ChatGPT as the next conversation turn.")
}
