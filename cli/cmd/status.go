package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store status and security health",
	Long:  "Display the store's operating mode, key generations and security health score.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	report := engine.PerformSecurityHealthCheck()

	fmt.Println("Store Status")
	fmt.Println("============")
	fmt.Printf("Mode: %s\n", report.Mode)
	fmt.Printf("Health Score: %d/100\n", report.Score)
	fmt.Printf("Store Reachable: %v\n", report.StoreReachable)
	fmt.Printf("Master Key Present: %v\n", report.MasterKeyPresent)
	if report.ActiveKeyFingerprint != "" {
		fmt.Printf("Active Key Fingerprint: %s\n", report.ActiveKeyFingerprint)
	}
	fmt.Printf("Biometric Available: %v\n", report.BiometricAvailable)
	if report.LastRotation.IsZero() {
		fmt.Println("Last Rotation: never")
	} else {
		fmt.Printf("Last Rotation: %s\n", report.LastRotation.Format("2006-01-02 15:04:05 MST"))
	}
	if report.RotationOverdue {
		fmt.Println("Rotation: OVERDUE")
	}
	fmt.Printf("Failures (last hour): %d\n", report.RecentFailures)
	if report.DroppedAuditEvents > 0 {
		fmt.Printf("Dropped Audit Events: %d\n", report.DroppedAuditEvents)
	}

	keys := engine.Keys()
	active, retired := 0, 0
	for _, key := range keys {
		if key.Active {
			active++
		} else {
			retired++
		}
	}
	fmt.Printf("Key Generations: %d (Active: %d, Retired: %d)\n", len(keys), active, retired)
	fmt.Printf("Store Path: %s\n", storePath)

	return nil
}
