package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rotateReason string

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the master encryption key",
	Long: `Generate a fresh master key and retire the current one. Existing records
stay readable: each ciphertext names the key generation that sealed it and
retired keys remain available for decryption.`,
	RunE: rotateKey,
}

func init() {
	rotateCmd.Flags().StringVar(&rotateReason, "reason", "manual", "reason recorded in the audit trail")
	rootCmd.AddCommand(rotateCmd)
}

func rotateKey(cmd *cobra.Command, args []string) error {
	before := engine.ActiveKeyFingerprint()
	if err := engine.Rotate(rotateReason); err != nil {
		return fmt.Errorf("rotation failed: %w", err)
	}
	fmt.Printf("Rotated master key\n")
	fmt.Printf("  previous: %s\n", before)
	fmt.Printf("  active:   %s\n", engine.ActiveKeyFingerprint())
	return nil
}
