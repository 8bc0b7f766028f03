package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"concierge/callbridge/internal/auth"
	"concierge/callbridge/internal/config"
	"concierge/callbridge/internal/health"
	"concierge/callbridge/internal/logger"
	"concierge/callbridge/internal/realtime"
	"concierge/callbridge/internal/store"
	"concierge/callbridge/internal/telephony"
)

// tokenSkew is the clock drift tolerated on media stream tokens.
const tokenSkew = 30 * time.Second

// CallServer bridges one accepted telephony connection until the call ends.
type CallServer interface {
	Serve(ctx context.Context, conn realtime.Conn) error
	Active() int
}

type Handlers struct {
	cfg          config.Config
	store        *store.Store
	calls        CallServer
	minter       realtime.SessionMinter
	instructions string
	probes       health.Probes
	now          func() time.Time
}

func NewHandlers(cfg config.Config, st *store.Store, calls CallServer, minter realtime.SessionMinter, instructions string, probes health.Probes) *Handlers {
	return &Handlers{
		cfg:          cfg,
		store:        st,
		calls:        calls,
		minter:       minter,
		instructions: instructions,
		probes:       probes,
		now:          time.Now,
	}
}

func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	st := health.CheckAll(ctx, h.cfg, h.probes)
	code := http.StatusOK
	if !st.OK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

// Voice answers the telephony voice webhook with TwiML that connects the call
// to our media stream endpoint.
func (h *Handlers) Voice(c *gin.Context) {
	log := logger.FromGin(c)
	wh, err := telephony.ParseVoiceWebhook(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	url := streamBase(h.cfg.Server.PublicURL, c.Request.Host) + "/media-stream"
	if h.cfg.Auth.StreamSecret != "" {
		tok, err := auth.IssueStreamToken(h.cfg.Auth.StreamSecret, wh.CallSid, h.now(), h.cfg.Auth.StreamTokenTTL)
		if err != nil {
			log.Error("stream token issue failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
			return
		}
		url += "/" + tok
	}
	twiml, err := telephony.RenderConnectStream(telephony.StreamParams{
		URL:        url,
		Parameters: map[string]string{"callSid": wh.CallSid},
	})
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml render failed"})
		return
	}
	log.Info("voice webhook", "call_sid", wh.CallSid, "from", wh.From, "to", wh.To, "status", wh.CallStatus)
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

// Session mints an ephemeral realtime session for browser clients.
func (h *Handlers) Session(c *gin.Context) {
	if h.cfg.Server.CORSOrigin != "" {
		c.Header("Access-Control-Allow-Origin", h.cfg.Server.CORSOrigin)
	}
	if h.minter == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "sessions not configured"})
		return
	}
	raw, err := h.minter.Mint(c.Request.Context(), h.instructions)
	if err != nil {
		logger.FromGin(c).Error("session mint failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "session mint failed"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

func (h *Handlers) ListCalls(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": h.calls.Active(),
		"calls":  h.store.ListCalls(),
	})
}

func (h *Handlers) ListEvents(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.store.GetCall(id); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call_id": id,
		"events":  h.store.ListEvents(id),
	})
}

// MediaStream upgrades the telephony media stream and hands it to the bridge.
// When a stream secret is configured the path must carry a valid token.
func (h *Handlers) MediaStream(c *gin.Context) {
	log := logger.FromGin(c)
	if secret := h.cfg.Auth.StreamSecret; secret != "" {
		tok := c.Param("token")
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "stream token required"})
			return
		}
		callSID, err := auth.ValidateStreamToken(secret, tok, h.now(), tokenSkew)
		if err != nil {
			log.Warn("stream token rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid stream token"})
			return
		}
		log = log.With("call_sid", callSID)
	}

	ws, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("media stream upgrade failed", "err", err)
		return
	}
	ctx := logger.With(c.Request.Context(), log)
	if err := h.calls.Serve(ctx, realtime.NewWSConn(ws)); err != nil {
		log.Warn("media stream refused", "err", err)
	}
}

// streamBase turns the public base URL (or the request host) into a
// websocket base URL.
func streamBase(public, host string) string {
	switch {
	case strings.HasPrefix(public, "https://"):
		return "wss://" + strings.TrimPrefix(public, "https://")
	case strings.HasPrefix(public, "http://"):
		return "ws://" + strings.TrimPrefix(public, "http://")
	case strings.HasPrefix(public, "wss://"), strings.HasPrefix(public, "ws://"):
		return public
	case public != "":
		return "wss://" + public
	}
	return "wss://" + host
}
