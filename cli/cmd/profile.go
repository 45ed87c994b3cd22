package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/telhawk-systems/secops-alerts/cli/internal/config"
	"github.com/telhawk-systems/secops-alerts/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
	Long:  "Manage named profiles pointing the CLI at different detect deployments",
}

var profileSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := config.Profile{}
		if existing, ok := cfg.Profiles[args[0]]; ok {
			p = *existing
		}
		if cmd.Flags().Changed("url") {
			p.APIURL, _ = cmd.Flags().GetString("url")
		}
		if cmd.Flags().Changed("opensearch-url") {
			p.OpenSearchURL, _ = cmd.Flags().GetString("opensearch-url")
		}
		if cmd.Flags().Changed("opensearch-username") {
			p.OpenSearchUsername, _ = cmd.Flags().GetString("opensearch-username")
		}
		if cmd.Flags().Changed("opensearch-password") {
			p.OpenSearchPassword, _ = cmd.Flags().GetString("opensearch-password")
		}
		if cmd.Flags().Changed("insecure") {
			p.Insecure, _ = cmd.Flags().GetBool("insecure")
		}

		if err := cfg.SetProfile(args[0], p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved to %s", args[0], cfg.Path())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(cfg.Profiles))
		for n := range cfg.Profiles {
			names = append(names, n)
		}
		sort.Strings(names)

		resolved := make(map[string]config.Profile, len(names))
		for _, n := range names {
			p := cfg.Resolve(n)
			p.OpenSearchPassword = ""
			resolved[n] = p
		}

		return output.Print(outputFormat(cmd), resolved, func() {
			if len(names) == 0 {
				output.Info("No profiles configured, using defaults (%s)", cfg.Defaults.APIURL)
				return
			}
			table := output.NewTable([]string{"", "Name", "API URL", "OpenSearch URL"})
			for _, n := range names {
				mark := ""
				if n == cfg.CurrentProfile {
					mark = "*"
				}
				table.AddRow([]string{mark, n, resolved[n].APIURL, resolved[n].OpenSearchURL})
			}
			table.Render()
		})
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a profile",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)

	profileSetCmd.Flags().String("url", config.DefaultAPIURL, "detect API URL")
	profileSetCmd.Flags().String("opensearch-url", "", "OpenSearch URL used by seed --opensearch")
	profileSetCmd.Flags().String("opensearch-username", "", "OpenSearch username")
	profileSetCmd.Flags().String("opensearch-password", "", "OpenSearch password")
	profileSetCmd.Flags().Bool("insecure", false, "skip TLS verification")
}
