// Package importcmd handles statement CSV import commands
package importcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"subsentry/cmd/root"
	"subsentry/internal/dedupe"
	"subsentry/internal/logging"
)

// Cmd represents the import command
var Cmd = &cobra.Command{
	Use:   "import",
	Short: "Import a statement CSV file",
	Long:  `Import a statement CSV file, skipping transactions already stored.`,
	RunE:  importFunc,
}

func importFunc(cmd *cobra.Command, args []string) error {
	log := root.App.GetLogger()
	if root.SharedFlags.Input == "" {
		return fmt.Errorf("missing required flag: --input")
	}

	result, err := root.App.GetReader().ReadStatement(root.SharedFlags.Input)
	if err != nil {
		return err
	}

	existing, err := root.App.GetStorage().LoadTransactions()
	if err != nil {
		return err
	}

	d := dedupe.New(root.App.GetConfig().Engine.DedupeWindowDays, log)
	fresh, skipped := d.Dedupe(existing, result.Transactions)

	if err := root.App.GetStorage().SaveImport(result.BatchID, root.SharedFlags.Input, fresh, skipped); err != nil {
		return err
	}

	log.Info("Import finished",
		logging.Field{Key: logging.FieldBatchID, Value: result.BatchID},
		logging.Field{Key: "inserted", Value: len(fresh)},
		logging.Field{Key: "skipped", Value: skipped},
		logging.Field{Key: "malformed", Value: result.Malformed})
	fmt.Printf("Imported %d transactions (%d duplicates skipped, %d malformed rows)\n",
		len(fresh), skipped, result.Malformed)
	return nil
}
