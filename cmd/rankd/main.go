/*
main.go - Application entry point

COMMANDS:
  rankd serve      Start the HTTP server and the ingest worker pool
  rankd reconcile  Run the ledger backfill/repair batch
  rankd seed       Load the default rank table (and optional demo data)

EXAMPLES:
  # Run with file database
  rankd serve --db=./data/rank.db

  # Backfill one user's ledger from scratch
  rankd reconcile --db=./data/rank.db --user=user-42 --force

  # Backfill everyone who has no ledger yet
  rankd reconcile --db=./data/rank.db

SEE ALSO:
  - api/server.go: Router configuration
  - reconcile/job.go: The batch job
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
