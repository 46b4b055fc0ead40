package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/tokligence/chatstream/internal/app"
	"github.com/tokligence/chatstream/internal/bootstrap"
	"github.com/tokligence/chatstream/internal/chat"
	"github.com/tokligence/chatstream/internal/config"
	"github.com/tokligence/chatstream/internal/ledger"
	"github.com/tokligence/chatstream/internal/logging"
	"github.com/tokligence/chatstream/internal/session"
	"github.com/tokligence/chatstream/internal/version"
)

func main() {
	cmd := &cli.Command{
		Name:    "chatstream",
		Usage:   "stream chat completions from configured LLM connections",
		Version: version.FullInfo(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "root", Value: ".", Usage: "directory holding config/", Sources: cli.EnvVars("CHATSTREAM_ROOT")},
			&cli.BoolFlag{Name: "verbose", Usage: "log debug output to stderr"},
		},
		Commands: []*cli.Command{
			sendCommand(),
			historyCommand(),
			connectionsCommand(),
			modelsCommand(),
			usageCommand(),
			initCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "chatstream: %v\n", err)
		os.Exit(1)
	}
}

// open loads config and wires the app. CLI logs go to stderr, at warn
// unless --verbose, and to the configured log file.
func open(cmd *cli.Command) (*app.App, func(), error) {
	cfg, err := config.Load(cmd.String("root"))
	if err != nil {
		return nil, nil, err
	}
	level := "warn"
	if cmd.Bool("verbose") {
		level = "debug"
	}
	logCloser, err := logging.Setup(logging.Options{
		Prefix: "[chatstream] ",
		Level:  level,
		File:   cfg.LogFile,
		Stdout: os.Stderr,
	})
	if err != nil {
		return nil, nil, err
	}
	a, err := app.Build(cfg)
	if err != nil {
		logCloser.Close()
		return nil, nil, err
	}
	closeAll := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			log.Printf("[WARN] shutdown: %v", err)
		}
		if err := a.Close(); err != nil {
			log.Printf("[WARN] close: %v", err)
		}
		logCloser.Close()
	}
	return a, closeAll, nil
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "send a message and stream the reply; Ctrl-C cancels and keeps the partial reply",
		ArgsUsage: "<message...>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Value: "cli", Usage: "conversation id", Sources: cli.EnvVars("CHATSTREAM_CONVERSATION")},
			&cli.StringFlag{Name: "connection", Usage: "connection id override"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model override"},
			&cli.StringFlag{Name: "system", Usage: "system prompt override"},
			&cli.FloatFlag{Name: "temperature", Usage: "sampling temperature override"},
			&cli.IntFlag{Name: "max-tokens", Usage: "completion token limit override"},
			&cli.StringFlag{Name: "reasoning-effort", Usage: "reasoning effort hint (low|medium|high)"},
			&cli.BoolFlag{Name: "no-stream", Usage: "request a single non-streamed completion"},
		},
		Action: runSend,
	}
}

func runSend(ctx context.Context, cmd *cli.Command) error {
	content := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if content == "" {
		return errors.New("message required")
	}
	a, closeAll, err := open(cmd)
	if err != nil {
		return err
	}
	defer closeAll()

	req := chat.SendRequest{ConversationID: cmd.String("conversation"), Content: content}
	req.Overrides.ConnectionID = cmd.String("connection")
	req.Overrides.Model = cmd.String("model")
	req.Overrides.ReasoningEffort = cmd.String("reasoning-effort")
	if cmd.IsSet("system") {
		v := cmd.String("system")
		req.Overrides.SystemPrompt = &v
	}
	if cmd.IsSet("temperature") {
		v := cmd.Float("temperature")
		req.Overrides.Temperature = &v
	}
	if cmd.IsSet("max-tokens") {
		v := cmd.Int("max-tokens")
		req.Overrides.MaxTokens = &v
	}
	if cmd.Bool("no-stream") {
		stream := false
		req.Stream = &stream
	}

	send, err := a.Chat.Send(ctx, req)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			send.Controller.Cancel()
		case <-send.Done():
		}
	}()

	var printer snapshotPrinter
	for snap := range send.Controller.Snapshots() {
		printer.apply(os.Stdout, snap)
	}
	<-send.Done()
	out := send.Outcome()
	if printer.printed != "" && !strings.HasSuffix(printer.printed, "\n") {
		fmt.Fprintln(os.Stdout)
	}
	fmt.Fprintln(os.Stderr, summaryLine(out))
	if out.Status == session.StatusFailed && out.Err != nil {
		return out.Err
	}
	return nil
}

// snapshotPrinter writes the growth of cumulative content. When content is
// replaced rather than extended the whole text is printed again.
type snapshotPrinter struct {
	printed string
}

func (p *snapshotPrinter) apply(w io.Writer, snap session.Snapshot) {
	if snap.Content == p.printed {
		return
	}
	if strings.HasPrefix(snap.Content, p.printed) {
		fmt.Fprint(w, snap.Content[len(p.printed):])
	} else {
		fmt.Fprint(w, "\n---\n"+snap.Content)
	}
	p.printed = snap.Content
}

func summaryLine(out session.Outcome) string {
	parts := []string{
		"[" + string(out.Status) + "]",
		out.Model,
		humanize.Bytes(uint64(len(out.Content))),
	}
	if out.Usage != nil {
		parts = append(parts, fmt.Sprintf("%s tokens (%s prompt, %s completion)",
			humanize.Comma(int64(out.Usage.TotalTokens)),
			humanize.Comma(int64(out.Usage.PromptTokens)),
			humanize.Comma(int64(out.Usage.CompletionTokens))))
	}
	parts = append(parts, out.Duration.Round(time.Millisecond).String())
	if out.Incomplete {
		parts = append(parts, "incomplete")
	}
	if out.Err != nil && out.Status == session.StatusFailed {
		parts = append(parts, "error: "+out.Err.Error())
	}
	return strings.Join(parts, " ")
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "print stored messages of a conversation",
		ArgsUsage: "[conversation]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "most recent messages to show (0 for all)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			conv := cmd.Args().First()
			if conv == "" {
				conv = "cli"
			}
			a, closeAll, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			msgs, err := a.Chat.History(ctx, conv, cmd.Int("limit"))
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("%s %-9s %-9s %s\n", humanize.Time(m.CreatedAt), m.Role, m.Status, m.Content)
			}
			return nil
		},
	}
}

func connectionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "connections",
		Usage: "list configured connections",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, closeAll, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			for _, c := range a.Catalog.List() {
				key := "no key"
				if c.HasAPIKey() {
					key = "key set"
				}
				fmt.Printf("%-16s %-9s %-40s %-20s %s\n", c.ID, c.Provider, c.BaseURL, c.DefaultModel, key)
			}
			return nil
		},
	}
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:      "models",
		Usage:     "list models offered by a connection",
		ArgsUsage: "<connection>",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: 15 * time.Second},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return errors.New("connection id required")
			}
			a, closeAll, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			conn, ok := a.Catalog.Get(id)
			if !ok {
				return fmt.Errorf("unknown connection %s", id)
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			models, err := a.Router.ListModels(ctx, conn.Adapter())
			if err != nil {
				return err
			}
			for _, m := range models {
				fmt.Println(m.ID)
			}
			return nil
		},
	}
}

func usageCommand() *cli.Command {
	return &cli.Command{
		Name:  "usage",
		Usage: "show token usage recorded in the ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Usage: "restrict to one conversation"},
			&cli.IntFlag{Name: "recent", Value: 0, Usage: "also list this many recent sessions"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, closeAll, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeAll()
			conv := cmd.String("conversation")
			sum, err := a.Ledger.Summary(ctx, conv)
			if err != nil {
				return err
			}
			fmt.Printf("sessions=%s completed=%s cancelled=%s failed=%s tokens=%s (prompt %s, completion %s)\n",
				humanize.Comma(sum.Sessions), humanize.Comma(sum.Completed), humanize.Comma(sum.Cancelled), humanize.Comma(sum.Failed),
				humanize.Comma(sum.TotalTokens), humanize.Comma(sum.PromptTokens), humanize.Comma(sum.CompletionTokens))
			if n := cmd.Int("recent"); n > 0 {
				entries, err := a.Ledger.ListRecent(ctx, conv, n)
				if err != nil {
					return err
				}
				for _, e := range entries {
					printEntry(e)
				}
			}
			return nil
		},
	}
}

func printEntry(e ledger.Entry) {
	fmt.Printf("%s %-12s %-10s %-20s %8s tokens %6dms %s\n",
		humanize.Time(e.CreatedAt), e.ConversationID, e.Status, e.Model,
		humanize.Comma(e.TotalTokens()), e.DurationMS, strings.Join(e.Annotations, ","))
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "scaffold config/setting.ini, config/<env>/chatstream.ini and config/connections.yaml",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env", Value: "dev"},
			&cli.StringFlag{Name: "listen", Value: ":8090"},
			&cli.StringFlag{Name: "ledger-path"},
			&cli.StringFlag{Name: "provider", Usage: "optional upstream connection (openai|ollama)"},
			&cli.StringFlag{Name: "base-url"},
			&cli.StringFlag{Name: "api-key-env", Usage: "environment variable holding the api key"},
			&cli.StringFlag{Name: "model", Usage: "default model of the upstream connection"},
			&cli.BoolFlag{Name: "force", Usage: "overwrite existing files"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			opts := bootstrap.InitOptions{
				Root:         cmd.String("root"),
				Environment:  cmd.String("env"),
				ListenAddr:   cmd.String("listen"),
				LedgerPath:   cmd.String("ledger-path"),
				Provider:     cmd.String("provider"),
				BaseURL:      cmd.String("base-url"),
				APIKeyEnv:    cmd.String("api-key-env"),
				DefaultModel: cmd.String("model"),
				Force:        cmd.Bool("force"),
			}
			if err := bootstrap.Init(opts); err != nil {
				return err
			}
			fmt.Printf("wrote config under %s/config\n", opts.Root)
			return nil
		},
	}
}
