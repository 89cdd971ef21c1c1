// Package askdbctl is the command line client for the askdb HTTP API.
package askdbctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Fs is where upload reads database files from; nil means the OS.
	Fs     afero.Fs
	Stdout io.Writer
	Stderr io.Writer
}

// requestError marks failures of the API call itself, as opposed to usage
// errors, so Run can pick the exit code.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// Run executes one command and returns the process exit code: 0 on success,
// 1 when the request fails or the API answers with an error, 2 on usage
// errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}

	root := NewRootCommand(defaults)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		_, _ = fmt.Fprintln(defaults.Stderr, reqErr.Error())
		return 1
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "%v\n\n%s", err, root.UsageString())
	return 2
}

type client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	fs      afero.Fs
	stdout  io.Writer
}

func NewRootCommand(defaults Options) *cobra.Command {
	c := &client{
		http:   defaults.HTTPClient,
		fs:     defaults.Fs,
		stdout: defaults.Stdout,
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}

	root := &cobra.Command{
		Use:           "askdbctl",
		Short:         "Talk to an askdb server",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(*cobra.Command, []string) error {
			return errors.New("a command is required")
		},
		PersistentPreRun: func(*cobra.Command, []string) {
			if c.http == nil {
				c.http = &http.Client{Timeout: c.timeout}
			}
		},
	}
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)
	root.PersistentFlags().StringVar(&c.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "askdb API base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", durationOr(defaults.Timeout, 2*time.Minute), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/health", nil, "")
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.call(cmd.Context(), http.MethodGet, "/v1/ready", nil, "")
			},
		},
		uploadCommand(c),
		askCommand(c),
		&cobra.Command{
			Use:   "session <session-id>",
			Short: "Show session state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.call(cmd.Context(), http.MethodGet, sessionPath(args[0], ""), nil, "")
			},
		},
		&cobra.Command{
			Use:   "schema <session-id>",
			Short: "Show the schema of an uploaded database",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.call(cmd.Context(), http.MethodGet, sessionPath(args[0], "/schema"), nil, "")
			},
		},
		historyCommand(c),
		exportCommand(c),
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a session and its files",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.call(cmd.Context(), http.MethodDelete, sessionPath(args[0], ""), nil, "")
			},
		},
	)
	return root
}

func uploadCommand(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a SQLite database and start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := afero.ReadFile(c.fs, args[0])
			if err != nil {
				return &requestError{err: fmt.Errorf("read %s: %w", args[0], err)}
			}
			var body bytes.Buffer
			writer := multipart.NewWriter(&body)
			part, err := writer.CreateFormFile("file", filepath.Base(args[0]))
			if err != nil {
				return &requestError{err: fmt.Errorf("build upload: %w", err)}
			}
			if _, err := part.Write(payload); err != nil {
				return &requestError{err: fmt.Errorf("build upload: %w", err)}
			}
			if err := writer.Close(); err != nil {
				return &requestError{err: fmt.Errorf("build upload: %w", err)}
			}
			return c.call(cmd.Context(), http.MethodPost, "/v1/sessions", &body, writer.FormDataContentType())
		},
	}
}

func askCommand(c *client) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "ask <session-id> <question...>",
		Short: "Ask a question about an uploaded database",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := json.Marshal(map[string]any{
				"question": strings.Join(args[1:], " "),
				"export":   export,
			})
			if err != nil {
				return &requestError{err: err}
			}
			return c.call(cmd.Context(), http.MethodPost, sessionPath(args[0], "/ask"), bytes.NewReader(payload), "application/json")
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "store the result as Parquet in the object store")
	return cmd
}

func historyCommand(c *client) *cobra.Command {
	var limit int
	var attempts bool
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "List recorded questions of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if attempts {
				query.Set("attempts", "true")
			}
			path := sessionPath(args[0], "/history")
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return c.call(cmd.Context(), http.MethodGet, path, nil, "")
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of turns")
	cmd.Flags().BoolVar(&attempts, "attempts", false, "include failed execution attempts")
	return cmd
}

func exportCommand(c *client) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <session-id> <turn>",
		Short: "Download the Parquet export of an answered question",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			turn, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || turn < 1 {
				return fmt.Errorf("turn must be a positive integer, got %q", args[1])
			}
			target := output
			if target == "" {
				target = fmt.Sprintf("%06d.parquet", turn)
			}
			path := sessionPath(args[0], "/exports/"+strconv.FormatInt(turn, 10))
			return c.download(cmd.Context(), path, target)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default <turn>.parquet)")
	return cmd
}

func (c *client) download(ctx context.Context, path, target string) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, c.http, http.MethodGet, endpoint, nil, "")
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}
	if err := afero.WriteFile(c.fs, target, responseBody, 0o644); err != nil {
		return &requestError{err: fmt.Errorf("write %s: %w", target, err)}
	}
	_, _ = fmt.Fprintf(c.stdout, "wrote %d bytes to %s\n", len(responseBody), target)
	return nil
}

func (c *client) call(ctx context.Context, method, path string, body io.Reader, contentType string) error {
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	code, responseBody, err := doRequest(ctx, c.http, method, endpoint, body, contentType)
	if err != nil {
		return &requestError{err: fmt.Errorf("request failed: %w", err)}
	}
	if code >= 400 {
		return &requestError{err: fmt.Errorf("http %d: %s", code, strings.TrimSpace(string(responseBody)))}
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(c.stdout, pretty)
		return nil
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(c.stdout, string(responseBody))
	}
	return nil
}

func doRequest(ctx context.Context, client *http.Client, method, url string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, responseBody, nil
}

func sessionPath(id, suffix string) string {
	return "/v1/sessions/" + url.PathEscape(strings.TrimSpace(id)) + suffix
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
