package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var syncAddr string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Trigger an immediate sync pass on a running tether daemon",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncAddr, "addr", "http://localhost:8090",
		"Address of the running daemon")
}

func runSync(cmd *cobra.Command, args []string) error {
	body, err := adminRequest(http.MethodPost, syncAddr+"/_tether/sync")
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(body))
	return nil
}
