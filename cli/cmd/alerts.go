package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/secops-alerts/cli/internal/client"
	"github.com/telhawk-systems/secops-alerts/cli/pkg/output"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert triage",
	Long:  "List, summarize and triage alerts raised by the detection rules",
}

var alertsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List alerts",
	Long:    "List alerts, newest first, optionally filtered by status and severity",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		severity, _ := cmd.Flags().GetString("severity")
		limit, _ := cmd.Flags().GetInt("limit")

		alerts, err := detectClient(cmd).ListAlerts(cmd.Context(), status, severity, limit)
		if err != nil {
			return err
		}

		return output.Print(outputFormat(cmd), alerts, func() {
			if len(alerts) == 0 {
				output.Info("No alerts found")
				return
			}
			table := output.NewTable([]string{"ID", "Title", "Severity", "Status", "Events", "Timestamp"})
			for _, a := range alerts {
				table.AddRow([]string{
					a.ID,
					a.Title,
					a.Severity,
					a.Status,
					fmt.Sprintf("%d", a.EventCount),
					a.Timestamp.Format("2006-01-02 15:04"),
				})
			}
			table.Render()
		})
	},
}

var alertsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show alert statistics",
	Long:  "Show alert counts by severity and status and the last 24 hours of activity",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := detectClient(cmd).Stats(cmd.Context())
		if err != nil {
			return err
		}
		return output.Print(outputFormat(cmd), stats, func() { printStats(stats) })
	},
}

func printStats(s *client.Stats) {
	output.Info("Total alerts: %d", s.TotalAlerts)
	output.Info("  critical %d  high %d  medium %d  low %d",
		s.BySeverity.Critical, s.BySeverity.High, s.BySeverity.Medium, s.BySeverity.Low)

	statuses := make([]string, 0, len(s.ByStatus))
	for k := range s.ByStatus {
		statuses = append(statuses, k)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, k := range statuses {
		parts = append(parts, fmt.Sprintf("%s %d", k, s.ByStatus[k]))
	}
	if len(parts) > 0 {
		output.Info("  %s", strings.Join(parts, "  "))
	}

	var active []client.ActivityBucket
	for _, b := range s.RecentActivity {
		if b.Total > 0 {
			active = append(active, b)
		}
	}
	if len(active) == 0 {
		return
	}
	output.Info("")
	table := output.NewTable([]string{"Hour", "Total", "Critical", "High", "Medium", "Low"})
	for _, b := range active {
		table.AddRow([]string{
			b.Label,
			fmt.Sprintf("%d", b.Total),
			fmt.Sprintf("%d", b.Critical),
			fmt.Sprintf("%d", b.High),
			fmt.Sprintf("%d", b.Medium),
			fmt.Sprintf("%d", b.Low),
		})
	}
	table.Render()
}

var alertsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run a detection pass",
	Long:  "Ask the service to evaluate recent events against every rule and store the resulting alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := detectClient(cmd).Generate(cmd.Context())
		if err != nil {
			return err
		}
		return output.Print(outputFormat(cmd), res, func() {
			output.Success("%s (%d new)", res.Message, res.NewAlertCount)
		})
	},
}

var alertsSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Change an alert's status",
	Long:  "Set an alert's status to one of: open, investigating, resolved, false_positive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := detectClient(cmd).UpdateStatus(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return output.Print(outputFormat(cmd), res, func() {
			output.Success("Alert %s is now %s", res.ID, res.Status)
		})
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsStatsCmd)
	alertsCmd.AddCommand(alertsGenerateCmd)
	alertsCmd.AddCommand(alertsSetStatusCmd)

	alertsListCmd.Flags().String("status", "", "filter by status (open, investigating, resolved, false_positive)")
	alertsListCmd.Flags().String("severity", "", "filter by severity (critical, high, medium, low)")
	alertsListCmd.Flags().Int("limit", 100, "maximum number of alerts")
}
