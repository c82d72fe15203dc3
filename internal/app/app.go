// Package app wires the components into a running bot and HTTP server.
package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"vanish-drop/internal/access"
	"vanish-drop/internal/auth"
	"vanish-drop/internal/bot"
	"vanish-drop/internal/config"
	"vanish-drop/internal/content"
	"vanish-drop/internal/delivery"
	"vanish-drop/internal/handler"
	"vanish-drop/internal/hub"
	"vanish-drop/internal/membership"
	"vanish-drop/internal/metrics"
	"vanish-drop/internal/ratelimit"
	"vanish-drop/internal/relay"
	"vanish-drop/internal/server"
	"vanish-drop/internal/store"
	"vanish-drop/internal/telegram"
	"vanish-drop/internal/upload"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

const janitorInterval = time.Minute

// Client is the chat transport plus update intake.
type Client interface {
	bot.Transport
	membership.Prober
	handler.UpdateParser
	Poll(ctx context.Context, handle func(context.Context, tgbotapi.Update)) error
	SetWebhook(url, secret string) error
}

type App struct {
	cfg    config.Config
	ctx    context.Context
	client Client

	Store     *store.Store
	Registry  *content.Registry
	Gate      *membership.Gate
	Uploads   *upload.Manager
	Limiter   *ratelimit.Limiter[int64]
	Scheduler *delivery.Scheduler
	Hub       *hub.Hub
	Metrics   *metrics.Metrics
	Bot       *bot.Bot
	Updates   *telegram.Dispatcher
	Router    *gin.Engine
}

// New builds every component. ctx bounds the whole process lifetime:
// every table lives until it ends.
func New(ctx context.Context, cfg config.Config, client Client) *App {
	a := &App{
		cfg:      cfg,
		ctx:      ctx,
		client:   client,
		Store:    store.New(cfg.PrimaryOperatorID),
		Registry: content.NewRegistry(),
		Gate:     membership.NewGate(client),
		Hub:      hub.New(),
		Metrics:  metrics.New(),
	}
	a.Uploads = upload.NewManager(a.Registry, cfg.UploadIdleTimeout)
	a.Limiter = ratelimit.New[int64](cfg.RateLimit)
	a.Scheduler = delivery.NewScheduler(delivery.Options{
		Sender:  client,
		Ledger:  a.Store,
		Hub:     a.Hub,
		Metrics: a.Metrics,
	})
	a.Registry.OnRevoke(func(code string) { a.Scheduler.ExpediteCode(code) })

	a.Bot = bot.New(bot.Deps{
		Transport:   client,
		Store:       a.Store,
		Gate:        a.Gate,
		Registry:    a.Registry,
		Uploads:     a.Uploads,
		Access:      access.NewController(a.Limiter, a.Gate, a.Registry, a.Scheduler, a.Store, a.Metrics),
		Scheduler:   a.Scheduler,
		Broadcaster: delivery.NewBroadcaster(client, a.Store, a.Metrics, cfg.BroadcastInterval),
		Relay:       relay.New(client, a.Store, a.Metrics, cfg.RelayMaxMappings),
		Metrics:     a.Metrics,
		Lifetime:    ctx,
	})
	a.Updates = telegram.NewDispatcher(a.Bot.HandleUpdate)

	deps := server.Deps{
		Store:      a.Store,
		Registry:   a.Registry,
		Gate:       a.Gate,
		Hub:        a.Hub,
		Metrics:    a.Metrics,
		Broadcasts: a.Bot,
		Cleanups:   a.Scheduler,
		Version:    Version,
		StartedAt:  time.Now(),
	}
	if cfg.AdminAPIEnabled() {
		deps.TokenConfig = auth.TokenConfig{Secret: cfg.AdminSecret, Expiry: cfg.TokenExpiry, Issuer: "vanish-drop"}
	}
	if cfg.WebhookMode() {
		deps.Webhook = &handler.WebhookHandler{
			Parser:   client,
			Secret:   cfg.WebhookSecret,
			Handle:   a.Updates.Dispatch,
			Lifetime: ctx,
		}
	}
	a.Router = server.NewRouter(deps)
	return a
}

// Run serves updates and HTTP until the lifetime context ends. Pending
// cleanups are dropped on the way out; the count is logged.
func (a *App) Run() error {
	sweepIdle := a.cfg.RateLimit.BlockDuration
	if sweepIdle < time.Minute {
		sweepIdle = time.Minute
	}
	go a.Limiter.RunJanitor(a.ctx, janitorInterval, sweepIdle)
	go a.Uploads.RunJanitor(a.ctx, janitorInterval)

	if a.cfg.WebhookMode() {
		if err := a.client.SetWebhook(a.cfg.WebhookURL, a.cfg.WebhookSecret); err != nil {
			return errors.Wrap(err, "register webhook")
		}
	} else {
		go func() {
			if err := a.client.Poll(a.ctx, a.Bot.HandleUpdate); err != nil {
				jww.ERROR.Printf("app: polling stopped: %v", err)
			}
		}()
	}

	err := server.Run(a.ctx, a.cfg, a.Router)
	a.Updates.Wait()
	a.Bot.Wait()
	a.Scheduler.Wait()
	a.Scheduler.Shutdown()
	jww.INFO.Printf("app: stopped")
	return err
}
