package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/falak/mailrelay/internal/app"
	"github.com/falak/mailrelay/internal/storage"
)

var (
	logsStatus    string
	logsLimit     int
	logsOlderThan time.Duration
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Delivery log commands",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent delivery logs",
	RunE:  runLogsList,
}

var logsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete logs older than the given age",
	RunE:  runLogsPurge,
}

func init() {
	logsListCmd.Flags().StringVar(&logsStatus, "status", "", "Filter by status (success, fallback, failed)")
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 50, "Maximum number of logs to show")

	logsPurgeCmd.Flags().DurationVar(&logsOlderThan, "older-than", 0, "Age of logs to delete, e.g. 720h (required)")
	logsPurgeCmd.MarkFlagRequired("older-than")

	logsCmd.AddCommand(logsListCmd, logsPurgeCmd)
	rootCmd.AddCommand(logsCmd)
}

func openStorage() (storage.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return app.OpenStore(cfg.Storage)
}

func runLogsList(cmd *cobra.Command, args []string) error {
	switch storage.LogStatus(logsStatus) {
	case "", storage.StatusSuccess, storage.StatusFallback, storage.StatusFailed:
	default:
		return fmt.Errorf("invalid status: %s", logsStatus)
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	logs, err := store.ListLogs(context.Background(), storage.LogFilter{
		Status: storage.LogStatus(logsStatus),
		Limit:  logsLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list logs: %w", err)
	}

	if len(logs) == 0 {
		fmt.Println("No logs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tPROVIDER\tRECIPIENT\tSUBJECT\tERROR")
	for _, l := range logs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Timestamp.Format("2006-01-02 15:04:05"), l.Status, l.Provider, l.Recipient, truncate(l.Subject, 40), truncate(l.ErrorMessage, 60))
	}
	w.Flush()

	return nil
}

func runLogsPurge(cmd *cobra.Command, args []string) error {
	if logsOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	store, err := openStorage()
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.DeleteLogsBefore(context.Background(), time.Now().Add(-logsOlderThan))
	if err != nil {
		return fmt.Errorf("failed to purge logs: %w", err)
	}

	fmt.Printf("Deleted %d logs\n", deleted)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
