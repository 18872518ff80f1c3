package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/certops/certdash/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Only the most deployment-sensitive settings get flags; the long tail of
// table and document names is JSON-file territory. The function first
// filters os.Args to only the flags it recognizes using flagx.FilterArgs,
// avoiding collisions with other components. Regions are accepted as a
// comma-separated list.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-store", "-d", "-s", "-t", "-regions", "-sender",
		"-threshold", "-interval", "-dry-run",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.StoreBackend, "store", config.StoreBackend, "inventory store backend (dynamo, postgres, memory)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	regions := fs.String("regions", strings.Join(config.ACMRegions, ","), "ACM regions, comma separated")

	fs.StringVar(&config.SenderEmail, "sender", config.SenderEmail, "notification sender address")
	fs.IntVar(&config.ThresholdDays, "threshold", config.ThresholdDays, "renewal threshold in days")

	interval := fs.Int("interval", int(config.SyncInterval.Hours()), "scheduler interval (in hours)")
	fs.BoolVar(&config.TicketingDryRun, "dry-run", config.TicketingDryRun, "count ticket candidates without creating incidents")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.SyncInterval = time.Duration(*interval) * time.Hour

	config.ACMRegions = config.ACMRegions[:0]
	for _, r := range strings.Split(*regions, ",") {
		if r = strings.TrimSpace(r); r != "" {
			config.ACMRegions = append(config.ACMRegions, r)
		}
	}
}
