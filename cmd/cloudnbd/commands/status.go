package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/cloudnbd/internal/admin"
	"github.com/marmos91/cloudnbd/internal/cliutil"
)

var statusAdminAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the export table and cache occupancy of a running server",
	Long: `Status queries a running cloudnbd server's admin HTTP endpoint and
renders the export table and per-export cache occupancy as a table.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAdminAddr, "admin-addr", "127.0.0.1:19192", "Admin HTTP server address to query")
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := fetchStatus(statusAdminAddr)
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	table := cliutil.NewTableData("EXPORT", "RESIDENT BLOCKS", "CAPACITY BLOCKS")
	for _, e := range status.Exports {
		table.AddRow(e.Name, fmt.Sprintf("%d", e.ResidentBlocks), fmt.Sprintf("%d", e.CapacityBlocks))
	}
	return cliutil.PrintTable(os.Stdout, table)
}

func fetchStatus(addr string) (*admin.Status, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("admin server returned %s", resp.Status)
	}

	var status admin.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}
