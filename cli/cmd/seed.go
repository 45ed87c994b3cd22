package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/spf13/cobra"
	"github.com/telhawk-systems/secops-alerts/cli/internal/seeder"
	"github.com/telhawk-systems/secops-alerts/cli/pkg/output"
)

var (
	seedScenarios   string
	seedCount       int
	seedUser        string
	seedIP          string
	seedHost        string
	seedSeed        int64
	seedOut         string
	seedOpenSearch  bool
	seedIndexPrefix string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate synthetic security events",
	Long: `Generate Windows Security events that trip (or deliberately avoid) the
detection rules.

Events are written as NDJSON to stdout or --out, or bulk-indexed into the
OpenSearch cluster of the active profile with --opensearch.

Examples:
  # Brute force against one account, to stdout
  alertctl seed --scenario brute-force --user alice --ip 203.0.113.7

  # Every scenario straight into OpenSearch
  alertctl seed --opensearch

  # Reproducible fixture file
  alertctl seed --seed 42 --out fixtures.ndjson`,
	RunE: runSeed,
}

var seedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		type row struct {
			Name         string `json:"name" yaml:"name"`
			Description  string `json:"description" yaml:"description"`
			DefaultCount int    `json:"default_count" yaml:"default_count"`
		}
		var rows []row
		for _, s := range seeder.List() {
			rows = append(rows, row{s.Name(), s.Description(), s.DefaultCount()})
		}
		return output.Print(outputFormat(cmd), rows, func() {
			table := output.NewTable([]string{"Scenario", "Count", "Description"})
			for _, r := range rows {
				table.AddRow([]string{r.Name, fmt.Sprintf("%d", r.DefaultCount), r.Description})
			}
			table.Render()
		})
	},
}

func runSeed(cmd *cobra.Command, args []string) error {
	var names []string
	for _, n := range strings.Split(seedScenarios, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no scenarios given")
	}

	seed := seedSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	evts, err := seeder.NewGenerator(seed).Run(names, seeder.Params{
		Now:        time.Now().UTC(),
		Count:      seedCount,
		TargetUser: seedUser,
		SourceIP:   seedIP,
		Host:       seedHost,
	})
	if err != nil {
		return err
	}

	sink, closeSink, err := seedSink(cmd)
	if err != nil {
		return err
	}
	defer closeSink()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	n, err := sink.Write(ctx, evts)
	if err != nil {
		return fmt.Errorf("wrote %d of %d events: %w", n, len(evts), err)
	}

	if seedOpenSearch || seedOut != "-" {
		output.Success("Wrote %d events (seed %d)", n, seed)
	}
	return nil
}

func seedSink(cmd *cobra.Command) (seeder.Sink, func(), error) {
	if seedOpenSearch {
		p := activeProfile(cmd)
		client, err := opensearch.NewClient(opensearch.Config{
			Addresses: []string{p.OpenSearchURL},
			Username:  p.OpenSearchUsername,
			Password:  p.OpenSearchPassword,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: p.Insecure},
			},
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create opensearch client: %w", err)
		}
		return seeder.OpenSearchSink{Client: client, IndexPrefix: seedIndexPrefix}, func() {}, nil
	}

	if seedOut == "-" || seedOut == "" {
		return seeder.NDJSONSink{W: os.Stdout}, func() {}, nil
	}
	f, err := os.Create(seedOut)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", seedOut, err)
	}
	return seeder.NDJSONSink{W: f}, func() { f.Close() }, nil
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.AddCommand(seedListCmd)

	seedCmd.Flags().StringVar(&seedScenarios, "scenario", "brute-force,privilege-grant,lolbin,benign", "comma-separated scenarios to run")
	seedCmd.Flags().IntVar(&seedCount, "count", 0, "events per scenario (default: scenario's own)")
	seedCmd.Flags().StringVar(&seedUser, "user", "", "target user name (default: random)")
	seedCmd.Flags().StringVar(&seedIP, "ip", "", "source IP address (default: random)")
	seedCmd.Flags().StringVar(&seedHost, "host", "", "computer name (default: random)")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "random seed (default: time based)")
	seedCmd.Flags().StringVar(&seedOut, "out", "-", "NDJSON output file, - for stdout")
	seedCmd.Flags().BoolVar(&seedOpenSearch, "opensearch", false, "bulk-index into the profile's OpenSearch instead of writing NDJSON")
	seedCmd.Flags().StringVar(&seedIndexPrefix, "index-prefix", "security-events", "daily index prefix for --opensearch")
}
