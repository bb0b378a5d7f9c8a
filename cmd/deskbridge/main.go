// ABOUTME: Entry point for the deskbridge support broker
// ABOUTME: Bridges a generative assistant and human agents over a chat platform's webhook API

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/relaymesh/deskbridge/internal/assistant"
	"github.com/relaymesh/deskbridge/internal/broker"
	"github.com/relaymesh/deskbridge/internal/config"
	"github.com/relaymesh/deskbridge/internal/dedupe"
	"github.com/relaymesh/deskbridge/internal/ledger"
	"github.com/relaymesh/deskbridge/internal/ownership"
	"github.com/relaymesh/deskbridge/internal/platform"
	"github.com/relaymesh/deskbridge/internal/server"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _           _    _          _     _
  __| | ___  ___| | _| |__  _ __(_) __| | __ _  ___
 / _' |/ _ \/ __| |/ / '_ \| '__| |/ _' |/ _' |/ _ \
 | (_| |  __/\__ \   <| |_) | |  | | (_| | (_| |  __/
  \__,_|\___||___/_|\_\_.__/|_|  |_|\__,_|\__, |\___|
                                          |___/
`

// getConfigPath returns the path to the deskbridge config file.
// Priority: DESKBRIDGE_CONFIG env var > XDG_CONFIG_HOME/deskbridge/deskbridge.yaml > ~/.config/deskbridge/deskbridge.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DESKBRIDGE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "deskbridge.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "deskbridge", "deskbridge.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: deskbridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the webhook server")
		fmt.Println("  init     Create a new config file interactively")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Platform:  %s (account %s)\n", cfg.Platform.BaseURL, cfg.Platform.AccountID)
	green.Print("    ▶ ")
	fmt.Printf("Assistant: %s\n", cfg.Assistant.BaseURL)
	if cfg.Agents.HumanID == "" {
		yellow := color.New(color.FgYellow)
		yellow.Print("    ▶ ")
		fmt.Println("No human agent configured: failed responses stay silent")
	}
	fmt.Println()

	logger.Info("starting deskbridge",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"platform", cfg.Platform.BaseURL,
	)

	api := platform.NewClient(platform.Options{
		BaseURL:   cfg.Platform.BaseURL,
		AccountID: cfg.Platform.AccountID,
		APIToken:  cfg.Platform.APIToken,
		Timeout:   cfg.Platform.Timeout,
	}, logger)

	responder := assistant.NewClient(assistant.Options{
		BaseURL:      cfg.Assistant.BaseURL,
		APIKey:       cfg.Assistant.APIKey,
		PollInterval: cfg.Assistant.PollInterval,
		MaxAttempts:  cfg.Assistant.MaxPollAttempts,
	}, logger)

	activity, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		return fmt.Errorf("opening activity ledger: %w", err)
	}
	defer activity.Close()

	b := broker.New(api, responder, ownership.NewStore(), broker.Options{
		AutomationAgentID:  cfg.Agents.AutomationID,
		HumanAgentID:       cfg.Agents.HumanID,
		EscalationPhrases:  cfg.Phrases.Escalation,
		ResolutionPhrases:  cfg.Phrases.Resolution,
		WelcomeBackMessage: cfg.Messages.WelcomeBack,
		MediaAckMessage:    cfg.Messages.MediaAck,
	}, activity, logger)

	deduper := dedupe.New(10*time.Minute, 10000)
	defer deduper.Close()

	// A dispatch can wait out the assistant's full poll budget plus the
	// platform calls around it.
	dispatchTimeout := cfg.Assistant.PollInterval*time.Duration(cfg.Assistant.MaxPollAttempts+2) + 2*cfg.Platform.Timeout

	srv := server.New(server.Options{
		Addr:            cfg.Server.HTTPAddr,
		Broker:          b,
		Deduper:         deduper,
		Ledger:          activity,
		DispatchTimeout: dispatchTimeout,
		Logger:          logger,
	})

	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", hostport(cfg.Server.HTTPAddr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// hostport turns a listen address like ":8080" into a dialable one.
func hostport(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("deskbridge configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP listen address", ":8080")

	fmt.Println("\n--- Chat Platform ---")
	platformURL := prompt(reader, "Platform base URL", "https://app.chatwoot.com")
	accountID := prompt(reader, "Account ID", "")

	fmt.Println("\n--- Agents ---")
	automationID := prompt(reader, "Automation agent ID", "")
	humanID := prompt(reader, "Human agent ID (empty to disable escalation)", "")

	fmt.Println("\n--- Assistant Backend ---")
	assistantURL := prompt(reader, "Assistant base URL", "http://localhost:9000")

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# deskbridge configuration\n")
	cfg.WriteString("# Generated by deskbridge init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n\n", httpAddr))

	cfg.WriteString("platform:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", platformURL))
	cfg.WriteString(fmt.Sprintf("  account_id: \"%s\"\n", accountID))
	cfg.WriteString("  api_token: \"${PLATFORM_API_TOKEN}\"\n")
	cfg.WriteString("  timeout: \"10s\"\n\n")

	cfg.WriteString("agents:\n")
	cfg.WriteString(fmt.Sprintf("  automation_id: \"%s\"\n", automationID))
	cfg.WriteString(fmt.Sprintf("  human_id: \"%s\"\n\n", humanID))

	cfg.WriteString("assistant:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", assistantURL))
	cfg.WriteString("  api_key: \"${ASSISTANT_API_KEY}\"\n")
	cfg.WriteString("  poll_interval: \"2s\"\n")
	cfg.WriteString("  max_poll_attempts: 30\n\n")

	cfg.WriteString("ledger:\n")
	cfg.WriteString("  path: \":memory:\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  deskbridge serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
