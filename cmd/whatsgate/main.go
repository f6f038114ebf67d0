// ABOUTME: Entry point for the whatsgate session gateway server
// ABOUTME: Subcommand dispatch for serve, init, health, status, and token

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
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

	"github.com/whatsgate/whatsgate/internal/auth"
	"github.com/whatsgate/whatsgate/internal/config"
	"github.com/whatsgate/whatsgate/internal/gateway"
	"github.com/whatsgate/whatsgate/internal/wa"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _           _                   _
 __      _| |__   __ _| |_ ___  __ _  __ _| |_ ___
 \ \ /\ / / '_ \ / _' | __/ __|/ _' |/ _' | __/ _ \
  \ V  V /| | | | (_| | |_\__ \ (_| | (_| | ||  __/
   \_/\_/ |_| |_|\__,_|\__|___/\__, |\__,_|\__\___|
                               |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: WHATSGATE_CONFIG env var > XDG_CONFIG_HOME/whatsgate/whatsgate.yaml > ~/.config/whatsgate/whatsgate.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WHATSGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "whatsgate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "whatsgate", "whatsgate.yaml")
}

// getDataPath returns the path to the whatsgate data directory.
// Priority: XDG_DATA_HOME/whatsgate > ~/.local/share/whatsgate
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "whatsgate")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: whatsgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                    Start the gateway server")
		fmt.Println("  init                     Create a new config file interactively")
		fmt.Println("  health                   Check gateway health")
		fmt.Println("  status                   Show session status")
		fmt.Println("  token --subject NAME     Mint an API token from the configured secret")
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
	case "status":
		err = runStatus(ctx)
	case "token":
		err = runToken()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when the file
// does not exist so `whatsgate serve` works out of the box.
func loadConfig(configPath string) (*config.Config, bool, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), false, nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// clientFactory resolves the client binding from config. Only the in-memory
// fake is built in; real bindings would register here.
func clientFactory(cfg *config.Config) (wa.Factory, error) {
	switch cfg.Client.Mode {
	case "fake":
		return wa.FakeFactory(true), nil
	default:
		return nil, fmt.Errorf("unknown client mode %q", cfg.Client.Mode)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, fromFile, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	if !fromFile {
		logger.Warn("no config file found, using defaults", "path", configPath)
	}

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Client:  %s\n", cfg.Client.Mode)
	if cfg.Client.AutoStart {
		green.Print("    ▶ ")
		fmt.Println("Session: auto-start")
	}

	fmt.Println()

	logger.Info("starting whatsgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"client_mode", cfg.Client.Mode,
	)

	factory, err := clientFactory(cfg)
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg, factory, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
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

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
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

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
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

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
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
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
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

func runStatus(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/status", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token := readSavedToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed: status %d", resp.StatusCode)
	}

	var status gateway.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	phaseColor := color.New(color.FgYellow)
	switch status.Phase {
	case "ready":
		phaseColor = color.New(color.FgGreen)
	case "disconnected", "auth_failed":
		phaseColor = color.New(color.FgRed)
	}

	fmt.Print("Phase:    ")
	phaseColor.Println(status.Phase)
	fmt.Printf("QR:       %t\n", status.HasQR)
	if status.Identity != nil {
		fmt.Printf("Account:  %s (%s)\n", status.Identity.DisplayName, status.Identity.AccountID)
	}
	fmt.Printf("Uptime:   %s\n", status.Uptime)
	return nil
}

// readSavedToken reads the token file written by `whatsgate token --save`.
func readSavedToken() string {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(getConfigPath()), "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// runToken mints a JWT for the given subject, or hashes an API key with
// --hash-key. Supports both "--flag value" and "--flag=value" formats.
func runToken() error {
	var subject, hashKey, ttlRaw string
	var save bool

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			ttlRaw = args[i+1]
			i++
		case strings.HasPrefix(arg, "--ttl="):
			ttlRaw = strings.TrimPrefix(arg, "--ttl=")
		case arg == "--hash-key":
			if i+1 >= len(args) {
				return fmt.Errorf("--hash-key requires a value")
			}
			hashKey = args[i+1]
			i++
		case strings.HasPrefix(arg, "--hash-key="):
			hashKey = strings.TrimPrefix(arg, "--hash-key=")
		case arg == "--save":
			save = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if hashKey != "" {
		hash, err := auth.HashAPIKey(hashKey)
		if err != nil {
			return fmt.Errorf("hashing key: %w", err)
		}
		fmt.Println(hash)
		fmt.Fprintln(os.Stderr, "Put this value in auth.api_key_hash in your config.")
		return nil
	}

	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	cfg, fromFile, err := loadConfig(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !fromFile || cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (run `whatsgate init` first)", getConfigPath())
	}

	ttl := 30 * 24 * time.Hour
	if ttlRaw != "" {
		ttl, err = time.ParseDuration(ttlRaw)
		if err != nil {
			return fmt.Errorf("parsing --ttl: %w", err)
		}
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)

	if save {
		tokenPath := filepath.Join(filepath.Dir(getConfigPath()), "token")
		if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
			return fmt.Errorf("writing token file: %w", err)
		}
		green := color.New(color.FgGreen)
		green.Fprintf(os.Stderr, "Saved token: %s\n", tokenPath)
	}

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("whatsgate configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	// Client
	fmt.Println("\n--- Client Configuration ---")
	dataDir := prompt(reader, "Session data directory", defaultDataPath)
	autoStartStr := prompt(reader, "Auto-start session on boot?", "no")
	autoStart := strings.ToLower(autoStartStr) == "yes" || strings.ToLower(autoStartStr) == "y"

	// Auth
	fmt.Println("\n--- Auth Configuration ---")
	genSecretStr := prompt(reader, "Generate a JWT secret?", "yes")
	var jwtSecret string
	if strings.ToLower(genSecretStr) == "yes" || strings.ToLower(genSecretStr) == "y" {
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# whatsgate configuration\n")
	cfg.WriteString("# Generated by whatsgate init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	if jwtSecret != "" {
		cfg.WriteString("auth:\n")
		cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", jwtSecret))
		cfg.WriteString("\n")
	}

	cfg.WriteString("client:\n")
	cfg.WriteString("  mode: \"fake\"\n")
	cfg.WriteString(fmt.Sprintf("  data_dir: \"%s\"\n", dataDir))
	cfg.WriteString(fmt.Sprintf("  auto_start: %t\n", autoStart))
	cfg.WriteString("  restart_delay: \"2s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("events:\n")
	cfg.WriteString("  heartbeat_interval: \"30s\"\n")
	cfg.WriteString("  subscriber_buffer: 64\n")
	cfg.WriteString("\n")

	cfg.WriteString("rate_limit:\n")
	cfg.WriteString("  standard:\n")
	cfg.WriteString("    max_requests: 100\n")
	cfg.WriteString("    window: \"1m\"\n")
	cfg.WriteString("  strict:\n")
	cfg.WriteString("    max_requests: 10\n")
	cfg.WriteString("    window: \"1m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  whatsgate serve\n")

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
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
