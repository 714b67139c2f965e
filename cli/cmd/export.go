package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"southwinds.dev/locker"
)

var exportPassphrase string

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the store to a passphrase-sealed container",
	Long: `Snapshot every record, master key ring included, into a portable container
sealed with a key derived from the passphrase. The container can be restored
on another device with the restore command.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore the store from an exported container",
	Long: `Decrypt a container produced by export and write its records back into the
store, replacing entries with the same keys. A wrong passphrase or tampered
container fails before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	exportCmd.Flags().StringVar(&exportPassphrase, "passphrase", "", "container passphrase (or LOCKER_EXPORT_PASSPHRASE)")
	restoreCmd.Flags().StringVar(&exportPassphrase, "passphrase", "", "container passphrase (or LOCKER_EXPORT_PASSPHRASE)")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(restoreCmd)
}

func containerPassphrase() (string, error) {
	if exportPassphrase != "" {
		return exportPassphrase, nil
	}
	if env := os.Getenv("LOCKER_EXPORT_PASSPHRASE"); env != "" {
		return env, nil
	}
	return "", fmt.Errorf("passphrase required: use --passphrase or LOCKER_EXPORT_PASSPHRASE")
}

func runExport(cmd *cobra.Command, args []string) error {
	passphrase, err := containerPassphrase()
	if err != nil {
		return err
	}

	container, err := engine.Export(context.Background(), passphrase)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	blob, err := json.MarshalIndent(container, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize container: %w", err)
	}
	if err = os.WriteFile(args[0], blob, 0600); err != nil {
		return fmt.Errorf("failed to write container: %w", err)
	}

	fmt.Printf("Exported store to %s (id %s)\n", args[0], container.ExportID)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	passphrase, err := containerPassphrase()
	if err != nil {
		return err
	}

	blob, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read container: %w", err)
	}
	var container locker.ExportContainer
	if err = json.Unmarshal(blob, &container); err != nil {
		return fmt.Errorf("container file corrupt: %w", err)
	}

	if err = engine.Restore(context.Background(), &container, passphrase); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	fmt.Printf("Restored store from %s (id %s)\n", args[0], container.ExportID)
	return nil
}
