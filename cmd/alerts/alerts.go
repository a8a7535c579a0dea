// Package alerts handles the alert listing command
package alerts

import (
	"fmt"

	"github.com/spf13/cobra"

	"subsentry/cmd/root"
)

// Cmd represents the alerts command
var Cmd = &cobra.Command{
	Use:   "alerts",
	Short: "List stored alerts",
	Long:  `List stored alerts, newest first, optionally filtered by severity.`,
	RunE:  alertsFunc,
}

func init() {
	Cmd.Flags().StringVar(&root.Severity, "severity", "", "Filter by severity (info, warn, high)")
}

func alertsFunc(cmd *cobra.Command, args []string) error {
	switch root.Severity {
	case "", "info", "warn", "high":
	default:
		return fmt.Errorf("invalid severity %q (must be info, warn or high)", root.Severity)
	}

	alerts, err := root.App.GetStorage().LoadAlerts(root.Severity)
	if err != nil {
		return err
	}

	if len(alerts) == 0 {
		fmt.Println("No alerts")
		return nil
	}
	for _, a := range alerts {
		fmt.Printf("%s  %-5s %-18s %s", a.CreatedAt.Format("2006-01-02"), a.Severity, a.Kind, a.Evidence.MerchantKey)
		if a.Evidence.PriorValue != "" && a.Evidence.NewValue != "" {
			fmt.Printf("  %s -> %s %s", a.Evidence.PriorValue, a.Evidence.NewValue, a.Evidence.Unit)
		} else if a.Evidence.NewValue != "" {
			fmt.Printf("  %s %s", a.Evidence.NewValue, a.Evidence.Unit)
		}
		if a.Evidence.PeriodContext != "" {
			fmt.Printf("  (%s)", a.Evidence.PeriodContext)
		}
		fmt.Println()
	}
	return nil
}
