// Package export handles the insights export command
package export

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"subsentry/cmd/root"
	"subsentry/internal/dateutils"
)

// Cmd represents the export command
var Cmd = &cobra.Command{
	Use:   "export",
	Short: "Export the insights bundle",
	Long: `Export the insights bundle: monthly spend totals, the subscription list and
the alert log. The export is aggregate-only and never contains raw transaction
descriptions.`,
	RunE: exportFunc,
}

func init() {
	Cmd.Flags().StringVar(&root.Format, "format", "", "Export format: csv or json (default from config)")
	Cmd.Flags().StringVar(&root.From, "from", "", "Include only alerts created on or after this date")
	Cmd.Flags().StringVar(&root.To, "to", "", "Include only alerts created on or before this date")
}

func exportFunc(cmd *cobra.Command, args []string) error {
	cfg := root.App.GetConfig()

	format := root.Format
	if format == "" {
		format = cfg.Export.Format
	}
	if format != "csv" && format != "json" {
		return fmt.Errorf("invalid format %q (must be csv or json)", format)
	}

	from, err := parseDateFlag(root.From)
	if err != nil {
		return err
	}
	to, err := parseDateFlag(root.To)
	if err != nil {
		return err
	}

	db := root.App.GetStorage()
	txns, err := db.LoadTransactions()
	if err != nil {
		return err
	}
	subs, err := db.LoadSubscriptions()
	if err != nil {
		return err
	}
	alerts, err := db.LoadAlerts("")
	if err != nil {
		return err
	}

	bundle := root.App.GetReportBuilder().Build(txns, subs, alerts, from, to)

	switch format {
	case "json":
		data, err := bundle.JSON()
		if err != nil {
			return err
		}
		if root.SharedFlags.Output == "" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(root.SharedFlags.Output, data, 0600); err != nil {
			return fmt.Errorf("error writing export file: %w", err)
		}
		fmt.Printf("Wrote insights bundle to %s\n", root.SharedFlags.Output)
	case "csv":
		dir := root.SharedFlags.Output
		if dir == "" {
			dir = cfg.Export.Directory
		}
		if err := bundle.WriteCSV(dir); err != nil {
			return err
		}
		fmt.Printf("Wrote insights bundle to %s\n", dir)
	}
	return nil
}

func parseDateFlag(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	parsed, _, err := dateutils.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", value, err)
	}
	return parsed, nil
}
