// ABOUTME: Operator client for a running whatsgate instance
// ABOUTME: Subcommands for status, qr, send, stats, and tailing the event stream

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/whatsgate/whatsgate/internal/gateway"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: wactl <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  status                        Show session status")
		fmt.Println("  qr                            Print the pending QR payload")
		fmt.Println("  send --chat ID --body TEXT    Send a text message")
		fmt.Println("  stats                         Show traffic counters")
		fmt.Println("  events                        Tail the live event stream")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	c := &client{cfg: cfg}

	switch os.Args[1] {
	case "status":
		err = c.status(ctx)
	case "qr":
		err = c.qr(ctx)
	case "send":
		err = c.send(ctx)
	case "stats":
		err = c.stats(ctx)
	case "events":
		err = c.events(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// client wraps HTTP calls against the gateway with the configured token.
type client struct {
	cfg *Config
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.Gateway.URL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Gateway.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Gateway.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// apiError extracts the error field from a JSON error body, falling back to
// the HTTP status.
func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return fmt.Errorf("%s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("status %d", resp.StatusCode)
}

func (c *client) status(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/status", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
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

func (c *client) qr(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/qr", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		fmt.Println("no QR pending (session is not waiting for a scan)")
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var body gateway.QRResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(body.QR)
	if err != nil {
		return fmt.Errorf("decoding qr payload: %w", err)
	}

	fmt.Println(string(raw))
	return nil
}

func (c *client) send(ctx context.Context) error {
	var chatID, text string

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--chat":
			if i+1 >= len(args) {
				return fmt.Errorf("--chat requires a value")
			}
			chatID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--chat="):
			chatID = strings.TrimPrefix(arg, "--chat=")
		case arg == "--body":
			if i+1 >= len(args) {
				return fmt.Errorf("--body requires a value")
			}
			text = args[i+1]
			i++
		case strings.HasPrefix(arg, "--body="):
			text = strings.TrimPrefix(arg, "--body=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if chatID == "" || text == "" {
		return fmt.Errorf("--chat and --body are required")
	}

	payload, err := json.Marshal(gateway.SendMessageRequest{ChatID: chatID, Body: text})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return apiError(resp)
	}

	var msg struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("sent ")
	fmt.Println(msg.ID)
	return nil
}

func (c *client) stats(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/stats", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var snap struct {
		Sent      int64  `json:"messages_sent"`
		Received  int64  `json:"messages_received"`
		Errors    int64  `json:"errors"`
		StartedAt string `json:"started_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	fmt.Printf("Sent:      %d\n", snap.Sent)
	fmt.Printf("Received:  %d\n", snap.Received)
	fmt.Printf("Errors:    %d\n", snap.Errors)
	fmt.Printf("Since:     %s\n", snap.StartedAt)
	return nil
}

// events tails the SSE stream until interrupted, printing one line per
// event with the type colorized by severity.
func (c *client) events(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/events", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	gray := color.New(color.FgHiBlack)
	gray.Println("listening for events (ctrl-c to stop)")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Blank separators and heartbeat comments.
			continue
		}
		printEvent(strings.TrimPrefix(line, "data: "))
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream closed: %w", err)
	}
	return nil
}

func printEvent(raw string) {
	var event struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		fmt.Println(raw)
		return
	}

	typeColor := color.New(color.FgCyan)
	switch event.Type {
	case "ready":
		typeColor = color.New(color.FgGreen)
	case "disconnected", "auth_failure":
		typeColor = color.New(color.FgRed)
	case "qr":
		typeColor = color.New(color.FgYellow)
	}

	typeColor.Printf("%-14s", event.Type)
	if len(event.Data) > 0 && string(event.Data) != "null" {
		fmt.Printf(" %s", event.Data)
	}
	fmt.Println()
}
