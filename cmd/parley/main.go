// ABOUTME: CLI entrypoint for the parley chat client with TUI, export, and auto-drive modes.
// ABOUTME: Wires together config loading, the API client, the chat store and controllers, and the Bubble Tea front end.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/2389-research/parley/api"
	"github.com/2389-research/parley/chat"
	"github.com/2389-research/parley/config"
	"github.com/2389-research/parley/export"
	"github.com/2389-research/parley/tui"
)

var version = "dev"

// cliConfig holds all CLI configuration parsed from flags.
type cliConfig struct {
	friendID    int64
	groupID     int64
	drive       bool
	exportAs    string
	title       string
	configPath  string
	showVersion bool
}

func main() {
	loadDotEnv(".env")

	cfg := parseFlags()

	if cfg.showVersion {
		fmt.Printf("parley %s\n", version)
		os.Exit(0)
	}

	os.Exit(run(cfg))
}

// parseFlags parses command-line flags and returns a populated cliConfig.
func parseFlags() cliConfig {
	var cfg cliConfig

	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	fs.Int64Var(&cfg.friendID, "friend", 0, "Open a 1:1 conversation with the given friend ID")
	fs.Int64Var(&cfg.groupID, "group", 0, "Open the group conversation with the given group ID")
	fs.BoolVar(&cfg.drive, "drive", false, "Attach to the group's auto-drive run (with -group)")
	fs.StringVar(&cfg.exportAs, "export", "", "Export the transcript to stdout instead of opening the TUI: md or html")
	fs.StringVar(&cfg.title, "title", "", "Conversation title for the status bar and exports")
	fs.StringVar(&cfg.configPath, "config", "", "Config file path (default: $PARLEY_CONFIG or ~/.parley/config.yaml)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	return cfg
}

// run dispatches to the appropriate mode based on the config.
// Returns an exit code: 0 for success, 1 for failure.
func run(cfg cliConfig) int {
	if cfg.friendID == 0 && cfg.groupID == 0 {
		fmt.Fprintln(os.Stderr, "error: pass -friend <id> or -group <id>")
		return 2
	}
	if cfg.friendID != 0 && cfg.groupID != 0 {
		fmt.Fprintln(os.Stderr, "error: -friend and -group are mutually exclusive")
		return 2
	}

	path := cfg.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	appCfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	client := api.NewClient(appCfg.BaseURL, appCfg.AuthToken, api.WithTimeout(appCfg.HTTPTimeout))
	store := chat.NewStore()
	defer store.Close()

	opts := chat.Options{EnableThinking: appCfg.EnableThinking}
	history := chat.NewHistoryLoader(client, store)
	history.PageSize = appCfg.HistoryPage

	key := chat.FriendKey(cfg.friendID)
	if cfg.groupID != 0 {
		key = chat.GroupKey(cfg.groupID)
	}

	// Set up context with signal handling so quitting tears down streams.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	// Hydrate the first history page before rendering anything.
	if err := history.Refresh(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "error: loading history: %v\n", err)
		return 1
	}

	if cfg.exportAs != "" {
		return runExport(cfg, store, key)
	}

	title := cfg.title
	if title == "" {
		title = key.String()
	}

	var send tui.SendFunc
	if key.Kind == chat.KindGroup {
		groups := chat.NewGroupController(client, store, opts)
		send = func(ctx context.Context, content string) error {
			return groups.Send(ctx, cfg.groupID, content, nil)
		}
		if cfg.drive {
			drive := chat.NewAutoDriveController(client, store, opts)
			if _, err := drive.FetchState(ctx, cfg.groupID); err != nil {
				fmt.Fprintf(os.Stderr, "warning: auto-drive state: %v\n", err)
			}
			defer drive.Disconnect(cfg.groupID)
		}
	} else {
		friends := chat.NewFriendController(client, store, opts)
		send = func(ctx context.Context, content string) error {
			return friends.Send(ctx, cfg.friendID, content)
		}
	}

	load := func(ctx context.Context) (int, error) {
		return history.LoadOlder(ctx, key)
	}

	model := tui.NewChatModel(ctx, store, key, title, send, load)
	program := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// runExport writes the hydrated transcript to stdout as Markdown or HTML.
func runExport(cfg cliConfig, store *chat.Store, key chat.ConvKey) int {
	msgs := store.Messages(key)
	exportOpts := export.Options{
		Title:            cfg.title,
		IncludeThinking:  true,
		IncludeToolCalls: true,
	}

	switch strings.ToLower(cfg.exportAs) {
	case "md", "markdown":
		fmt.Print(export.Markdown(msgs, exportOpts))
	case "html":
		page, err := export.HTML(msgs, exportOpts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Print(page)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown export format %q (want md or html)\n", cfg.exportAs)
		return 2
	}
	return 0
}
