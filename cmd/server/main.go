package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/callcoord/internal/adapters/http"
	"github.com/dkeye/callcoord/internal/adapters/relay"
	"github.com/dkeye/callcoord/internal/config"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/server"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	sessions := server.NewSessionStore(clock.New(), cfg.RingTimeout)
	sessions.Auth = buildRoster(cfg.Roster)
	rooms := server.NewRoomManager()
	ctl := relay.NewController(sessions, rooms, relay.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		RateLimit:  cfg.Relay.RateLimit,
		RateBurst:  cfg.Relay.RateBurst,
	})
	sessions.OnEnded = ctl.BroadcastEnd

	profiles := make(map[domain.ParticipantID]domain.Profile, len(cfg.Profiles))
	for id, p := range cfg.Profiles {
		profiles[domain.ParticipantID(id)] = domain.Profile{Name: p.Name, AvatarRef: p.AvatarRef}
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sessions: sessions,
		Rooms:    rooms,
		Relay:    ctl,
		Profiles: profiles,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("call coordination server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func buildRoster(cfg config.RosterConfig) *server.Roster {
	r := server.NewRoster()
	r.AddStaff(ids(cfg.Staff)...)
	for _, p := range cfg.Friends {
		if len(p) != 2 {
			log.Warn().Strs("pair", p).Msg("ignoring malformed friends entry")
			continue
		}
		r.AddFriends(domain.ParticipantID(p[0]), domain.ParticipantID(p[1]))
	}
	for id, g := range cfg.Groups {
		r.AddGroup(id, server.Group{Owner: domain.ParticipantID(g.Owner), Members: ids(g.Members)})
	}
	for id, e := range cfg.Events {
		r.AddEvent(id, server.Event{Organizer: domain.ParticipantID(e.Organizer), Attendees: ids(e.Attendees), Public: e.Public})
	}
	log.Info().Int("friendships", len(cfg.Friends)).Int("groups", len(cfg.Groups)).Int("events", len(cfg.Events)).Msg("roster loaded")
	return r
}

func ids(raw []string) []domain.ParticipantID {
	out := make([]domain.ParticipantID, 0, len(raw))
	for _, s := range raw {
		out = append(out, domain.ParticipantID(s))
	}
	return out
}
