package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/secops-alerts/cli/pkg/output"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent security events",
	Long:  "Show the raw security events the detect service evaluated within the last N hours",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")

		evts, err := detectClient(cmd).RecentEvents(cmd.Context(), hours)
		if err != nil {
			return err
		}

		return output.Print(outputFormat(cmd), evts, func() {
			if len(evts) == 0 {
				output.Info("No events in the last %d hours", hours)
				return
			}
			table := output.NewTable([]string{"Time", "EventID", "Computer", "User", "IP"})
			for _, e := range evts {
				table.AddRow([]string{
					field(e, "TimeGenerated", "@timestamp"),
					field(e, "EventID"),
					field(e, "Computer"),
					field(e, "TargetUserName", "SubjectUserName"),
					field(e, "IpAddress"),
				})
			}
			table.Render()
			output.Info("\n%d events", len(evts))
		})
	},
}

// field returns the first present key of e as text.
func field(e map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := e[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().Int("hours", 24, "look-back window in hours (1-168)")
}
