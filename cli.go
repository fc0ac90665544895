package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"eino_agent_router/internal/app"
	"eino_agent_router/internal/config"
	"eino_agent_router/internal/conversation"
	"eino_agent_router/internal/logger"
	"eino_agent_router/internal/storage"
	"eino_agent_router/pkg"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// buildApp is swapped in tests to inject fake models
var buildApp = func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app.App, error) {
	return app.New(ctx, cfg, log)
}

type cliOptions struct {
	configPath string
	threadID   string
	userID     string
	agent      string
	attachment string
	jsonOutput bool
	progress   bool
	limit      int
	messages   bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}
	root := &cobra.Command{
		Use:           "agent-router",
		Short:         "Multi-turn conversation router with checkpointed threads",
		SilenceUsage:  true,
		SilenceErrors: false,
		Long: `agent-router routes every user turn to a specialist agent (document QA or
meeting minutes), keeps each thread's history in a checkpoint store and
compacts long histories into a summary when they exceed the token budget.`,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the configuration file")

	root.AddCommand(
		newChatCmd(opts),
		newAskCmd(opts),
		newHistoryCmd(opts),
		newThreadsCmd(opts),
		newResetCmd(opts),
	)
	return root
}

// setup loads configuration and builds the app. The returned cleanup stops
// the metrics server and closes the store.
func setup(cmd *cobra.Command, opts *cliOptions) (*app.App, func(), error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		cancel()
		_ = logCloser.Close()
		return nil, nil, err
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := a.ServeMetrics(ctx); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	return a, func() {
		cancel()
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close checkpoint store")
		}
		_ = logCloser.Close()
	}, nil
}

func newAskCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Run a single turn and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			req := conversation.Request{
				ThreadID:   opts.threadID,
				UserID:     opts.userID,
				Message:    strings.Join(args, " "),
				AgentType:  opts.agent,
				Attachment: opts.attachment,
			}

			if opts.jsonOutput {
				res, err := a.Service.Invoke(cmd.Context(), req)
				if err != nil {
					return err
				}
				out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			if req.ThreadID == "" {
				req.ThreadID = uuid.NewString()
			}
			events, err := a.Service.Stream(cmd.Context(), req)
			if err != nil {
				return err
			}
			if _, err := renderEvents(cmd.OutOrStdout(), cmd.ErrOrStderr(), events, opts.progress); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", req.ThreadID)
			return nil
		},
	}
	addTurnFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "wait for the answer and print the result as JSON")
	return cmd
}

func newChatCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation on one thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()
			return runChat(cmd.Context(), a, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	addTurnFlags(cmd, opts)
	return cmd
}

// runChat reads one message per line. /reset clears the thread, /exit quits.
func runChat(ctx context.Context, a *app.App, opts *cliOptions, in io.Reader, out, errOut io.Writer) error {
	threadID := opts.threadID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	fmt.Fprintf(errOut, "thread: %s (type /exit to quit, /reset to start over)\n", threadID)

	scanner := bufio.NewScanner(in)
	attachment := opts.attachment
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			if err := a.Service.Reset(ctx, threadID); err != nil {
				return err
			}
			fmt.Fprintln(errOut, "thread reset")
			continue
		}

		events, err := a.Service.Stream(ctx, conversation.Request{
			ThreadID:   threadID,
			UserID:     opts.userID,
			Message:    line,
			AgentType:  opts.agent,
			Attachment: attachment,
		})
		if err != nil {
			return err
		}
		// the recording is only sent with the first turn
		attachment = ""

		if _, err := renderEvents(out, errOut, events, opts.progress); err != nil {
			fmt.Fprintln(errOut, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// renderEvents writes chunks to out as they arrive and returns the terminal
// event. An error event is returned as an error carrying its user-safe message.
func renderEvents(out, errOut io.Writer, events <-chan pkg.Event, progress bool) (*pkg.Event, error) {
	var streamed bool
	for ev := range events {
		switch ev.Type {
		case pkg.EventProgress:
			if progress {
				fmt.Fprintf(errOut, "[%s]\n", ev.Message)
			}
		case pkg.EventChunk:
			streamed = true
			fmt.Fprint(out, ev.Content)
		case pkg.EventComplete:
			if !streamed {
				fmt.Fprint(out, ev.Answer)
			}
			fmt.Fprintln(out)
			return &ev, nil
		case pkg.EventError:
			if streamed {
				fmt.Fprintln(out)
			}
			return &ev, errors.New(ev.Message)
		}
	}
	return nil, errors.New("stream ended without a result")
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <thread-id>",
		Short: "List the checkpoints of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			history, err := a.Service.History(cmd.Context(), args[0], opts.limit)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("thread %s: %w", args[0], storage.ErrCheckpointNotFound)
			}
			printHistory(cmd.OutOrStdout(), history, opts.messages)
			return nil
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "number of newest checkpoints to show (0 for all)")
	cmd.Flags().BoolVarP(&opts.messages, "messages", "m", false, "print the messages of the newest checkpoint")
	return cmd
}

func printHistory(w io.Writer, history []pkg.Checkpoint, withMessages bool) {
	for _, cp := range history {
		stats := storage.GetThreadStats(&cp)
		fmt.Fprintf(w, "#%d  %s  messages=%d  agent=%s  question=%s",
			cp.Sequence, cp.CreatedAt.Format("2006-01-02 15:04:05"), stats.MessageCount,
			orDash(stats.AgentType), orDash(cp.State.QuestionType))
		if stats.HasDigest {
			fmt.Fprint(w, "  compacted")
		}
		fmt.Fprintln(w)
	}

	if !withMessages {
		return
	}
	latest := history[len(history)-1].State
	fmt.Fprintln(w)
	for _, m := range latest.Messages {
		fmt.Fprintf(w, "%s: %s\n", m.Role, m.Content)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newThreadsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List known threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			ids, err := a.Service.Threads(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newResetCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <thread-id>",
		Short: "Delete every checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, cleanup, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := a.Service.Reset(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "thread %s reset\n", args[0])
			return nil
		},
	}
}

func addTurnFlags(cmd *cobra.Command, opts *cliOptions) {
	cmd.Flags().StringVarP(&opts.threadID, "thread", "t", "", "thread ID (a new one is generated when empty)")
	cmd.Flags().StringVarP(&opts.userID, "user", "u", "", "user ID stored with the thread")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "pin the specialist: chat or meeting")
	cmd.Flags().StringVarP(&opts.attachment, "attachment", "a", "", "recording to process with the meeting agent")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "print progress steps to stderr")
}
