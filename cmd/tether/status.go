package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stridehq/tether/internal/types"
)

var (
	statusAddr string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue diagnostics of a running tether daemon",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8090",
		"Address of the running daemon")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := adminGet(statusAddr + "/_tether/diagnostics")
	if err != nil {
		return err
	}

	if statusJSON {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}

	var d types.Diagnostics
	if err := json.Unmarshal(body, &d); err != nil {
		return fmt.Errorf("decode diagnostics: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "queued mutations: %d\n", d.TotalItems)
	fmt.Fprintf(cmd.OutOrStdout(), "awaiting sync:    %d\n", d.UnsyncedItems)
	return nil
}

// adminGet performs an authenticated GET against the admin surface.
func adminGet(url string) ([]byte, error) {
	return adminRequest(http.MethodGet, url)
}

func adminRequest(method, url string) ([]byte, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv("TETHER_API_KEY"); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("daemon returned %s: %s", resp.Status, body)
	}
	return body, nil
}
