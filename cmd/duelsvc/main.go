// Command duelsvc serves the duel lifecycle API, the realtime change feed
// and the notification queue.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/app"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		if err := sysutil.LoadDotEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	ver := sysutil.FirstNonEmpty(os.Getenv("SERVICE_VERSION"), version)
	logger := sysutil.SetupLogging(nil, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, ver)

	fx.New(
		fx.Supply(cfg, app.Version(ver)),
		fx.WithLogger(func() fxevent.Logger { return app.EventLogger{Log: logger} }),
		fx.StopTimeout(2*app.ShutdownTimeout),
		app.Module,
	).Run()
	log.Info().Msg("bye")
}
