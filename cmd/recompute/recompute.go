// Package recompute handles the full recompute command
package recompute

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"subsentry/cmd/root"
	"subsentry/internal/dateutils"
	"subsentry/internal/engine"
)

// Cmd represents the recompute command
var Cmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute subscriptions, alerts and anomaly scores",
	Long: `Recompute derives subscriptions, alerts and anomaly scores from the full
stored transaction history and commits the results atomically. Running it twice
over unchanged data produces no new alerts.`,
	RunE: recomputeFunc,
}

func init() {
	Cmd.Flags().StringVar(&root.AsOf, "as-of", "", "Reference date for cancellation detection (default: latest posting date)")
}

func recomputeFunc(cmd *cobra.Command, args []string) error {
	var asOf time.Time
	if root.AsOf != "" {
		parsed, _, err := dateutils.ParseDate(root.AsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of date %q: %w", root.AsOf, err)
		}
		asOf = parsed
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
	keys, err := db.LoadAlertKeys()
	if err != nil {
		return err
	}

	result, err := root.App.GetEngine().Recompute(txns, engine.PriorState{
		Subscriptions: subs,
		AlertKeys:     keys,
	}, asOf)
	if err != nil {
		return err
	}

	if err := db.SaveRecompute(result); err != nil {
		return err
	}

	fmt.Printf("Processed %d transactions (%d skipped), %d subscriptions, %d new alerts\n",
		result.Counts.Processed, result.Counts.Skipped,
		len(result.Subscriptions), result.Counts.Alerts)
	for _, ve := range result.ValidationErrors {
		fmt.Printf("  skipped %s: %s\n", ve.TransactionID, ve.Reason)
	}
	return nil
}
