// Command asyncexec runs an async job executor node and inspects its job
// collections.
//
//	asyncexec migrate --store postgres --dsn postgres://...
//	asyncexec run --store redis --dsn redis://localhost:6379/0
//	asyncexec jobs list --kind timer
//	asyncexec deadletter requeue job_01h...
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
