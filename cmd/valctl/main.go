// Package main implements the valctl CLI for manual operations against the validationd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the validationd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "valctl",
	Short: "CLI for validationd HTTP server operations",
	Long: `valctl is a command-line interface for interacting with the validationd HTTP server.
It provides commands for starting validation runs, submitting evidence,
inspecting checkpoints, and resolving pending decisions.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "validationd server URL")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(evidenceCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check validationd server health",
	Long: `Check the health status of the validationd HTTP server.

Examples:
  # Check health
  valctl health

  # Check health on a different server
  valctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var healthResp HealthResponse
	if err := getJSON("/health", &healthResp); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// httpClient is shared by all commands.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// getJSON performs a GET against the server and decodes the JSON
// response into out.
func getJSON(path string, out interface{}) error {
	url := serverURL + path

	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON performs a POST with a JSON body and decodes the JSON
// response into out. Any 2xx status is treated as success; decision
// outcomes such as expired or invalid arrive as non-2xx and are
// reported through the error.
func postJSON(path string, body, out interface{}) error {
	reqJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := serverURL + path
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError reads the response body and folds it into an error.
func statusError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
