// Command callctl joins (or starts) a call from the terminal and logs every
// change of the call until it ends or is interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/callcoord/internal/adapters/directory"
	"github.com/dkeye/callcoord/internal/adapters/rtc"
	"github.com/dkeye/callcoord/internal/adapters/sessionapi"
	sig "github.com/dkeye/callcoord/internal/adapters/signal"
	"github.com/dkeye/callcoord/internal/app"
	"github.com/dkeye/callcoord/internal/app/orch"
	"github.com/dkeye/callcoord/internal/config"
	"github.com/dkeye/callcoord/internal/domain"
)

func main() {
	flags := pflag.NewFlagSet("callctl", pflag.ExitOnError)
	flags.String("participant-id", "", "local participant id")
	contextType := flags.String("context", "PRIVATE", "context type: PRIVATE, GROUP or EVENT")
	contextID := flags.String("context-id", "", "context id (callee id for private calls)")
	mode := flags.String("call-mode", "OPEN", "session mode when creating: OPEN or RESTRICTED")
	verbose := flags.BoolP("verbose", "v", false, "debug logging")
	_ = flags.Parse(os.Args[1:])

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	self, err := domain.NewParticipantID(cfg.ParticipantID)
	if err != nil {
		log.Fatal().Err(err).Msg("participant id")
	}
	ct, err := domain.ParseContextType(*contextType)
	if err != nil {
		log.Fatal().Err(err).Msg("context type")
	}
	m, err := domain.ParseMode(*mode)
	if err != nil {
		log.Fatal().Err(err).Msg("mode")
	}
	if *contextID == "" {
		log.Fatal().Msg("--context-id is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.New()
	tracks := &rtc.Tracks{}
	tracks.Run(ctx)
	o := &orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Sessions:  sessionapi.NewClient(cfg.API.BaseURL, self, cfg.API.Timeout),
		Directory: directory.NewClient(cfg.Directory.BaseURL, cfg.Directory.CacheSize, cfg.Directory.CacheTTL, cfg.Directory.Timeout),
		Transport: sig.NewTransport(sig.Options{
			URL:           cfg.Signal.URL,
			ProbeInterval: cfg.Signal.ProbeInterval,
			ProbeAttempts: cfg.Signal.ProbeAttempts,
			MaxReconnects: cfg.Signal.MaxReconnects,
			BaseBackoff:   cfg.Signal.BaseBackoff,
			MaxBackoff:    cfg.Signal.MaxBackoff,
			SendBuffer:    cfg.Signal.SendBuffer,
		}, sig.GorillaDialer{Header: http.Header{sessionapi.ParticipantHeader: {string(self)}}}, clk),
		Media:        rtc.NewEngine(cfg.ICEServers),
		Local:        tracks,
		Entitlements: entitlements(cfg.RestrictedContexts),
		Clock:        clk,
		Self:         self,
		RingTimeout:  cfg.RingTimeout,
	}

	call, err := o.StartOrJoin(ctx, ct, *contextID, m)
	if err != nil {
		log.Fatal().Err(err).Msg("start or join")
	}
	views, unsubscribe := call.Subscribe()
	defer unsubscribe()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		// The channel closes once the call is torn down.
		defer stop()
		for v := range views {
			ev := log.Info().
				Str("room", string(v.Room)).
				Str("state", v.State.String()).
				Int("count", v.Count).
				Dur("duration", v.Duration)
			for _, p := range v.Participants {
				ev = ev.Str(string(p.ParticipantID), p.DisplayName+" "+p.State.String())
			}
			if v.Err != nil {
				ev = ev.AnErr("call_error", v.Err)
			}
			ev.Msg("call view")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hangCtx, hangCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hangCancel()
		return call.HangUp(hangCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("hang up")
	}
	log.Info().Msg("bye")
}

// entitlements parses "TYPE:id" pairs.
func entitlements(pairs []string) app.StaticEntitlements {
	e := app.StaticEntitlements{Restricted: make(map[domain.ContextType][]string)}
	for _, p := range pairs {
		typ, id, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		ct, err := domain.ParseContextType(typ)
		if err != nil {
			log.Warn().Err(err).Str("entry", p).Msg("ignoring restricted context")
			continue
		}
		e.Restricted[ct] = append(e.Restricted[ct], id)
	}
	return e
}
