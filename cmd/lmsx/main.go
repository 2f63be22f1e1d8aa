package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/ewhitmore/lmsx/internal/config"
	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/log"
	"github.com/ewhitmore/lmsx/internal/service"
	"github.com/ewhitmore/lmsx/internal/store"
	"github.com/ewhitmore/lmsx/internal/tui"
)

// Version is set at build time via -ldflags
var Version = "dev"

const connectTimeout = 60 * time.Second

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Parse()

	if showVersion {
		fmt.Printf("lmsx %s\n", Version)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := log.Setup(&cfg.Logging)
	if err != nil {
		logger = log.Null()
	}
	slog.SetDefault(logger)

	logger.Info("starting lmsx", "version", Version)

	if !cfg.IsConfigured() {
		if err := promptServer(cfg); err != nil {
			return err
		}
	}

	sessions, err := store.Open(config.DataDir())
	if err != nil {
		logger.Warn("session store unavailable, continuing without it", "error", err)
		sessions, _ = store.Open("")
	}
	defer sessions.Close()

	svc := service.New(logger)
	conn, err := connect(svc, cfg, sessions)
	if err != nil {
		return err
	}
	defer svc.Disconnect()

	if cfg.UI.RememberLogin {
		err := sessions.Save(store.Session{
			URL:      conn.BaseURL,
			Username: conn.User,
			Service:  conn.Service,
			Token:    conn.Token,
			SiteName: conn.SiteName,
		})
		if err != nil {
			logger.Warn("could not persist session", "error", err)
		}
	}

	model := tui.NewModel(svc, tui.Options{
		FuzzyFilter: cfg.UI.FuzzyFilter,
		ShowHidden:  cfg.UI.ShowHidden,
	}, logger)
	p := tea.NewProgram(model, tea.WithAltScreen())

	logger.Info("starting TUI", "site", conn.SiteName)

	if _, err := p.Run(); err != nil {
		logger.Error("TUI error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}

	logger.Info("shutting down")
	return nil
}

// connect establishes the session, preferring a stored token and falling
// back to a password prompt when the token is missing or rejected.
func connect(svc *service.Service, cfg *config.Config, sessions *store.SessionStore) (*domain.Connection, error) {
	params := service.ConnectParams{
		URL:      cfg.Server.URL,
		Username: cfg.Server.Username,
		Service:  cfg.Server.Service,
	}

	usedStored := false
	if cfg.UI.RememberLogin {
		if saved, ok := sessions.Load(cfg.Server.URL); ok && saved.Username == cfg.Server.Username {
			params.Token = saved.Token
			usedStored = true
		}
	}

	if params.Token == "" {
		password, err := promptPassword(cfg.Server.Username)
		if err != nil {
			return nil, err
		}
		params.Password = password
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := svc.Connect(ctx, params)
	if err == nil {
		return conn, nil
	}
	if !usedStored || !domain.IsAuthError(err) {
		return nil, err
	}

	// stored token expired: discard it and go around once with a password
	fmt.Println("Saved session expired, please sign in again.")
	_ = sessions.Delete(cfg.Server.URL)

	password, perr := promptPassword(cfg.Server.Username)
	if perr != nil {
		return nil, perr
	}
	params.Token = ""
	params.Password = password

	ctx2, cancel2 := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel2()
	return svc.Connect(ctx2, params)
}

// promptServer fills in the server URL and username interactively
func promptServer(cfg *config.Config) error {
	fmt.Println()
	fmt.Println("Welcome to lmsx!")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for cfg.Server.URL == "" {
		fmt.Print("Enter your LMS URL (e.g., https://moodle.example.edu): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		cfg.Server.URL = strings.TrimRight(strings.TrimSpace(input), "/")
	}

	for cfg.Server.Username == "" {
		fmt.Print("Username: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		cfg.Server.Username = strings.TrimSpace(input)
	}

	return nil
}

// promptPassword reads a password without echoing it
func promptPassword(username string) (string, error) {
	fmt.Printf("Password for %s: ", username)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
