// Command medtracker runs the medical tracker API: Google sign-in, session
// refresh and the auth activity log.
//
// Configuration comes from medtracker.yaml, MT__ environment variables and an
// optional -config file:
//
//	MT__AUTH__GOOGLE__CLIENT_ID=... MT__AUTH__GOOGLE__CLIENT_SECRET=... \
//	MT__AUTH__SIGNING_KEY=... go run ./cmd/medtracker
//
// Pass -fake-auth to sign in without Google during development.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/medtracker/medtracker"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/plugins/audit"
	"github.com/medtracker/medtracker/plugins/auth"
	"github.com/medtracker/medtracker/plugins/auth/fakeauth"
	"github.com/medtracker/medtracker/plugins/eventbus"
)

func main() {
	configFile := flag.String("config", "", "Additional YAML config file")
	withAudit := flag.Bool("audit", true, "Record auth events to the audit database")
	fakeAuth := flag.Bool("fake-auth", false, "Sign everyone in as a fake user instead of using Google")
	flag.Parse()

	if *configFile != "" {
		if err := medtracker.LoadConfigFile(*configFile); err != nil {
			ctx := logging.With(context.Background(), logging.NewDevLogger())
			logging.Fatalw(ctx, "failed to load config", "file", *configFile, "error", err)
		}
	}

	logger := logging.NewLogger(medtracker.ConfigString("logging.format"))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.With(ctx, logger)

	for _, w := range medtracker.ConfigWarnings() {
		logging.Warnw(ctx, "config: "+w)
	}
	if errs := medtracker.ValidateConfig(); len(errs) > 0 {
		logging.Fatalw(ctx, medtracker.FormatValidationErrors(errs))
	}

	bus := eventbus.NewBus(ctx)
	opts := []medtracker.ServerOption{
		medtracker.WithContext(ctx),
		medtracker.WithLogger(logger),
		medtracker.WithPlugin(eventbus.Plugin(bus)),
	}
	if *withAudit {
		opts = append(opts, medtracker.WithPlugin(audit.Plugin()))
	}
	var authOpts []auth.AuthOption
	if *fakeAuth {
		logging.Warnw(ctx, "fake auth enabled, every login succeeds as a fake user")
		authOpts = append(authOpts, auth.WithProvider(fakeauth.New()))
	}
	opts = append(opts, medtracker.WithPlugin(auth.Plugin(authOpts...)))

	if err := medtracker.New(opts...).Start(); err != nil {
		logging.Fatalw(ctx, "server failed", "error", err)
	}
}
