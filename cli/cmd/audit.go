package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"southwinds.dev/locker/audit"
)

var (
	auditAction   string
	auditFailures bool
	auditSince    string
	auditLimit    int
	auditOffset   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit trail",
	Long:  "Query the persisted audit trail by action, outcome and time window.",
	RunE:  queryAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditAction, "action", "", "filter by action (READ, WRITE, DELETE, ROTATE, ...)")
	auditCmd.Flags().BoolVar(&auditFailures, "failures", false, "show only failed operations")
	auditCmd.Flags().StringVar(&auditSince, "since", "", "show events after this time (RFC3339)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum events to return")
	auditCmd.Flags().IntVar(&auditOffset, "offset", 0, "events to skip")
	rootCmd.AddCommand(auditCmd)
}

func queryAudit(cmd *cobra.Command, args []string) error {
	options := audit.QueryOptions{
		Action: auditAction,
		Limit:  auditLimit,
		Offset: auditOffset,
	}
	if auditFailures {
		success := false
		options.Success = &success
	}
	if auditSince != "" {
		since, err := time.Parse(time.RFC3339, auditSince)
		if err != nil {
			return fmt.Errorf("invalid --since value: %w", err)
		}
		options.Since = &since
	}

	result, err := auditLogger.Query(options)
	if err != nil {
		return fmt.Errorf("audit query failed: %w", err)
	}

	if len(result.Events) == 0 {
		fmt.Println("No matching audit events.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tACTION\tOK\tDATA TYPE\tERROR")
	for _, event := range result.Events {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			event.Timestamp.Format(time.RFC3339),
			event.Action,
			event.Success,
			event.DataType,
			event.Error,
		)
	}
	if err = w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d of %d matching events", len(result.Events), result.Filtered)
	if result.HasMore {
		fmt.Printf(" (more available, use --offset %d)", auditOffset+len(result.Events))
	}
	fmt.Println()
	return nil
}
