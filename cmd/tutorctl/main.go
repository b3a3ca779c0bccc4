// Package main implements the tutorctl CLI for operations against the
// tutord daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	apiv1 "github.com/fyrsmithlabs/tutord/pkg/api/v1"
)

var (
	// serverAddr is the base URL for the tutord HTTP server
	serverAddr string
	// configPath is the config file used by in-process commands
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tutorctl",
	Short: "CLI for the tutord textbook question-answering daemon",
	Long: `tutorctl is a command-line interface for the tutord daemon.
It asks questions against the indexed textbook, ingests content into the
vector store, and checks daemon health.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:8080", "tutord server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (in-process commands)")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(healthCmd)

	queryCmd.Flags().StringVar(&queryMode, "mode", apiv1.ModeFullBook, "query mode: full-book or selected-text")
	queryCmd.Flags().StringVar(&selectionFile, "selection-file", "", "file holding the selected passage (- for stdin)")
	queryCmd.Flags().IntVarP(&maxResults, "max-results", "k", 0, "maximum retrieved chunks (default 5)")
	queryCmd.Flags().StringVar(&sessionID, "session", "", "session ID grouping related queries")
}

var (
	queryMode     string
	selectionFile string
	maxResults    int
	sessionID     string
)

// queryCmd asks a question against the indexed textbook
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question about the textbook",
	Long: `Ask a question against the indexed textbook via the tutord daemon.

Answers are grounded in the book's chapters and cite their sources.
Questions the book does not cover get a refusal instead of a guess.

Examples:
  # Ask in full-book mode
  tutorctl query "What is a ROS 2 node?"

  # Ground the question in a highlighted passage
  tutorctl query --selection-file passage.txt "What does this mean?"

  # Read the passage from stdin
  pbpaste | tutorctl query --selection-file - "Explain this paragraph"

  # Cap the evidence set
  tutorctl query -k 3 "How does a LIDAR sensor work?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// healthCmd checks daemon health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check tutord daemon health",
	Long: `Check the health status of the tutord daemon and its dependencies.

Examples:
  # Check health
  tutorctl health

  # Check health on a different server
  tutorctl health --addr http://localhost:9090`,
	RunE: runHealth,
}

// runQuery handles the query command
func runQuery(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return fmt.Errorf("question cannot be empty")
	}

	req := apiv1.QueryRequest{
		QueryText:  question,
		QueryMode:  queryMode,
		MaxResults: maxResults,
		SessionID:  sessionID,
	}

	if selectionFile != "" {
		selection, err := readSelection(selectionFile)
		if err != nil {
			return err
		}
		req.SelectedText = selection

		// A selection implies selected-text mode unless the user chose
		// a mode explicitly.
		if !cmd.Flags().Changed("mode") {
			req.QueryMode = apiv1.ModeSelectedText
		}
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/query", serverAddr)
	httpReq, err := http.NewRequest("POST", url, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Composition can take a while on long answers.
	client := &http.Client{
		Timeout: 120 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var queryResp apiv1.QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&queryResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Print(formatAnswer(queryResp))

	// Query metadata goes to stderr so the answer pipes cleanly.
	fmt.Fprintf(os.Stderr, "\n[tutorctl] covered=%t confidence=%.2f retrieved=%d session=%s\n",
		queryResp.Covered, queryResp.ConfidenceScore, queryResp.RetrievedChunks, queryResp.SessionID)

	return nil
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverAddr)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", url, err)
		return err
	}
	defer resp.Body.Close()

	// 503 still carries the health report: the daemon is up with a dead
	// dependency.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return apiError(resp)
	}

	var healthResp apiv1.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Print(formatHealth(healthResp, serverAddr))

	if healthResp.Status != "ok" {
		return fmt.Errorf("daemon reports status %q", healthResp.Status)
	}
	return nil
}

// readSelection reads the selected passage from a file or stdin.
func readSelection(path string) (string, error) {
	var content []byte
	var err error

	if path == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read selection from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read selection file %s: %w", path, err)
		}
	}

	selection := strings.TrimSpace(string(content))
	if selection == "" {
		return "", fmt.Errorf("selection is empty")
	}
	return selection, nil
}

// formatAnswer renders a query response for the terminal.
func formatAnswer(resp apiv1.QueryResponse) string {
	var b strings.Builder

	b.WriteString(resp.ResponseText)
	b.WriteString("\n")

	if len(resp.SourceCitations) > 0 {
		b.WriteString("\nSources:\n")
		for i, ct := range resp.SourceCitations {
			fmt.Fprintf(&b, "  [%d] %s (%s) %s score=%.2f\n",
				i+1, ct.ChapterTitle, ct.SectionType, ct.FilePath, ct.RelevanceScore)
		}
	}

	return b.String()
}

// formatHealth renders a health report for the terminal.
func formatHealth(resp apiv1.HealthResponse, addr string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Server Status: %s\n", resp.Status)
	fmt.Fprintf(&b, "Server URL: %s\n", addr)
	if resp.Version != "" {
		fmt.Fprintf(&b, "Server Version: %s\n", resp.Version)
	}

	if len(resp.Components) > 0 {
		b.WriteString("Components:\n")

		names := make([]string, 0, len(resp.Components))
		for name := range resp.Components {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			comp := resp.Components[name]
			fmt.Fprintf(&b, "  %-12s %-6s %dms", name, comp.Status, comp.LatencyMS)
			if comp.Error != "" {
				fmt.Fprintf(&b, "  (%s)", comp.Error)
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

// apiError turns a non-200 response into an error, preferring the
// structured {error: {code, message}} payload over the raw body.
func apiError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}

	var errBody apiv1.ErrorBody
	if err := json.Unmarshal(body, &errBody); err == nil && errBody.Error.Message != "" {
		return fmt.Errorf("server returned %s: %s", errBody.Error.Code, errBody.Error.Message)
	}

	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
