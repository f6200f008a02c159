package http

import (
	"context"
	stdhttp "net/http"

	"github.com/dkeye/callcoord/internal/adapters/relay"
	"github.com/dkeye/callcoord/internal/config"
	"github.com/dkeye/callcoord/internal/domain"
	"github.com/dkeye/callcoord/internal/metrics"
	"github.com/dkeye/callcoord/internal/server"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	ParticipantHeader = "X-Participant-Id"
	participantKey    = "participant"
)

// ParticipantMiddleware identifies the caller by header and remembers it in
// the cookie session, so browser clients only need to send it once.
func ParticipantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		raw := c.GetHeader(ParticipantHeader)
		if raw != "" {
			if sess.Get(participantKey) != raw {
				sess.Set(participantKey, raw)
				if err := sess.Save(); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
				}
			}
		} else if v, ok := sess.Get(participantKey).(string); ok {
			raw = v
		}
		if id, err := domain.NewParticipantID(raw); err == nil {
			c.Set(participantKey, id)
		}
		c.Next()
	}
}

func participant(c *gin.Context) (domain.ParticipantID, bool) {
	v, ok := c.Get(participantKey)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.ParticipantID)
	return id, ok
}

func requireParticipant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := participant(c); !ok {
			c.AbortWithStatusJSON(stdhttp.StatusUnauthorized, gin.H{"error": "missing participant"})
			return
		}
		c.Next()
	}
}

type Deps struct {
	Sessions *server.SessionStore
	Rooms    *server.RoomManager
	Relay    *relay.Controller
	Profiles map[domain.ParticipantID]domain.Profile
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CallSessions", store))
	r.Use(ParticipantMiddleware())

	h := &handlers{sessions: deps.Sessions, rooms: deps.Rooms, profiles: deps.Profiles}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(stdhttp.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/call-signal", func(c *gin.Context) {
		self, _ := participant(c)
		deps.Relay.HandleSignal(ctx, c, self)
	})

	api := r.Group("/api")
	api.GET("/profile/:id", h.profile)
	api.GET("/rooms", h.listRooms)

	sess := api.Group("/sessions", requireParticipant())
	sess.POST("", h.create)
	sess.GET("/active", h.active)
	sess.POST("/:id/accept", h.accept)
	sess.POST("/:id/end", h.end)

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
