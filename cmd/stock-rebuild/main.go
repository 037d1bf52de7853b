package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dedesp/PancongKeceApp-sub001/config"
	"github.com/dedesp/PancongKeceApp-sub001/models"
)

// Replays each material's movement history and rewrites drifted stock
// records. Run with -dry-run first to see what would change.
func main() {
	dryRun := flag.Bool("dry-run", false, "Report drifted materials without rewriting stock records")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	if *dryRun {
		drifted, err := models.PreviewStockDrift(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "drift preview failed: %v\n", err)
			os.Exit(1)
		}
		if len(drifted) == 0 {
			fmt.Println("all stock records match their movement history")
			return
		}
		for _, drift := range drifted {
			fmt.Printf("would rewrite %s (%s) from %s to %s %s\n",
				drift.MaterialName, drift.Code, drift.Stored.String(), drift.Replayed.String(), drift.Unit)
		}
		fmt.Printf("%d materials drifted (no records changed)\n", len(drifted))
		return
	}

	drifted, err := models.ReconcileStock(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
		os.Exit(1)
	}
	if len(drifted) == 0 {
		fmt.Println("all stock records match their movement history")
		return
	}
	for _, drift := range drifted {
		fmt.Printf("rewrote %s (%s) from %s to %s %s\n",
			drift.MaterialName, drift.Code, drift.Stored.String(), drift.Replayed.String(), drift.Unit)
	}
	fmt.Printf("reconciled %d materials\n", len(drifted))
}
