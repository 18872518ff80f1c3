// Command cli runs a single scheduled job (acm_sync, server_scan,
// expiry_monitor or ticket_creator) once and exits, for cron-style setups
// that do not keep the server process running.
package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/certops/certdash/internal/server"
	"github.com/certops/certdash/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	job := jobArg(os.Args[1:])
	if job == "" {
		log.Fatalf("usage: cli <job>, one of: %s", strings.Join(app.Jobs(), ", "))
		return
	}

	if err := app.RunJob(ctx, job); err != nil {
		log.Fatalf("%v", err)
	}

}

// jobArg picks the first non-flag argument, skipping flag values.
func jobArg(args []string) string {
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") {
				skipNext = true
			}
			continue
		}
		return arg
	}
	return ""
}
