package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"parley/internal/bootstrap"
	"parley/internal/domain"
	"parley/internal/usecase"
)

const chatHelp = `Type a message and press enter to send it.
  /listen   speak one utterance
  /stop     finish speaking and send what was heard
  /cancel   stop listening or abort the pending request
  /copy     copy the last reply to the clipboard
  /status   show controller state
  /quit     exit`

func newChatCommand() *cobra.Command {
	var skipStartup bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			sink := newConsoleSink(out)

			services, err := bootstrap.Build(cmd.Context(), sink)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = services.Close(ctx)
			}()

			if !skipStartup {
				if _, err := services.Startup(cmd.Context()); err != nil {
					return err
				}
				for _, record := range services.Controller.History() {
					sink.TurnRecorded(record)
				}
			}

			fmt.Fprintln(out, chatHelp)
			return runREPL(cmd.Context(), services.Controller, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().BoolVar(&skipStartup, "offline", false, "skip the health probe and history hydration")
	return cmd
}

// runREPL reads commands until EOF, /quit or ctx is done. Typed turns run
// in the background so /cancel stays available while they are in flight.
func runREPL(ctx context.Context, controller *usecase.TurnController, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = controller.Cancel()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, controller, strings.TrimSpace(line), out); quit {
				_ = controller.Cancel()
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, controller *usecase.TurnController, line string, out io.Writer) bool {
	switch line {
	case "":
		return false
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/listen":
		if err := controller.StartListening(ctx); err != nil && !errors.Is(err, domain.ErrAlreadyBusy) {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/stop":
		if err := controller.StopListening(); err != nil && !errors.Is(err, domain.ErrNotListening) {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/cancel":
		if err := controller.Cancel(); err != nil && !errors.Is(err, domain.ErrNoActiveRequest) {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/copy":
		reply, ok := controller.LastReply()
		switch {
		case !ok:
			fmt.Fprintln(out, "  nothing to copy")
		case clipboard.Unsupported:
			fmt.Fprintln(out, "! clipboard is not available on this system")
		default:
			if err := clipboard.WriteAll(reply); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			} else {
				fmt.Fprintln(out, "  copied")
			}
		}
	case "/status":
		status := controller.Status()
		fmt.Fprintf(out, "  %s (capture %s, dispatch %s, %d turns)\n",
			status.Presentation, status.Capture.Kind, status.Dispatch.Kind, status.HistoryLen)
	default:
		go func() { _, _ = controller.Submit(ctx, line) }()
	}
	return false
}
