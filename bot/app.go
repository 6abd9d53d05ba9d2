package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m3rciful/finbot/core/bootstrap"
	"github.com/m3rciful/finbot/core/dialog"
	"github.com/m3rciful/finbot/core/logger"
	"github.com/m3rciful/finbot/core/menu"
	"github.com/m3rciful/finbot/core/session"
	coretelegram "github.com/m3rciful/finbot/core/telegram"
	"github.com/m3rciful/finbot/core/telegram/commands"
	tgrouter "github.com/m3rciful/finbot/core/telegram/router"
	"log/slog"

	"github.com/m3rciful/finbot/bot/features/alerts"
	"github.com/m3rciful/finbot/bot/features/loans"
	"github.com/m3rciful/finbot/bot/features/portfolio"
	"github.com/m3rciful/finbot/bot/nlp"
	"github.com/m3rciful/finbot/bot/storage"
)

// App is the assembled bot: infrastructure plus the dialog engine with
// its feature handlers.
type App struct {
	cfg *Config
	db  *sqlx.DB

	transport *coretelegram.BotTransport
	gateway   *tgrouter.Gateway
	registry  *coretelegram.Registry

	metrics *http.Server
}

// New bootstraps infrastructure, seeds reference data, and wires the
// dialog engine.
func New(cfg *Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	db := res.DB

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	mods := bootstrap.Modules{
		Seeders: []bootstrap.Seeder{MenuSeeder{}},
	}
	for _, s := range mods.Seeders {
		if err := s.Seed(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bot: seed: %w", err)
		}
	}

	sessions := session.NewPGStore(db)
	transport := coretelegram.NewBotTransport()
	engine := dialog.NewRouter(sessions, transport)

	engine.RegisterFeature(NodePortfolio, portfolio.New(
		storage.NewHoldings(db),
		portfolio.Nodes{Add: NodePortfolioAdd, List: NodePortfolioList},
	))
	engine.RegisterFeature(NodeLoans, loans.New(
		storage.NewLoans(db),
		loans.Nodes{Add: NodeLoansAdd, List: NodeLoansList},
	))
	engine.RegisterFeature(NodeAlerts, alerts.New(
		storage.NewAlerts(db),
		nlp.New(cfg.NLP),
		alerts.Nodes{Add: NodeAlertsAdd, List: NodeAlertsList},
	))

	engine.RegisterGlobal("/start", menu.RootID)
	engine.RegisterGlobal("/menu", menu.RootID)
	engine.RegisterGlobal("/portfolio", NodePortfolio)
	engine.RegisterGlobal("/loans", NodeLoans)
	engine.RegisterGlobal("/alerts", NodeAlerts)

	gw := &tgrouter.Gateway{
		Dialog:   engine,
		Sessions: sessions,
		LoadTree: func(ctx context.Context) (*menu.Tree, error) {
			return menu.LoadTree(ctx, db)
		},
	}

	reg := coretelegram.NewRegistry()
	reg.RegisterCommand("/start", commands.Command{
		Handler:     gw.DispatchText,
		Description: "Open the main menu",
	})
	reg.RegisterCommand("/menu", commands.Command{
		Handler:     gw.DispatchText,
		Description: "Show the menu for where you are",
		Hidden:      true,
	})
	reg.RegisterCommand("/portfolio", commands.Command{
		Handler:     gw.DispatchText,
		Description: "Jump to your portfolio",
	})
	reg.RegisterCommand("/loans", commands.Command{
		Handler:     gw.DispatchText,
		Description: "Jump to your loans",
	})
	reg.RegisterCommand("/alerts", commands.Command{
		Handler:     gw.DispatchText,
		Description: "Jump to your price alerts",
	})

	return &App{
		cfg:       cfg,
		db:        db,
		transport: transport,
		gateway:   gw,
		registry:  reg,
	}, nil
}

// TelegramRunOptions builds the runtime wiring for the core runner.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	routes := tgrouter.TextRoutes(a.gateway)
	routes = append(routes, tgrouter.CallbackRoute(a.gateway))
	routes = append(routes, tgrouter.CommandRoutes(a.registry, tgrouter.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
	})...)

	return coretelegram.RunOptions{
		Config:      a.cfg.CoreConfig(),
		Registry:    a.registry,
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.transport.Bind(rt.Bot, rt.Dispatcher)
			a.startMetrics()
			return nil
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.stopMetrics()
			if err := a.db.Close(); err != nil {
				logger.L.With("component", "app").Warn("db close",
					slog.String("event", "shutdown"),
					slog.String("err", err.Error()),
				)
			}
			return nil
		},
	}, nil
}

func (a *App) startMetrics() {
	listen := a.cfg.Metrics.Listen
	if listen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	a.metrics = &http.Server{Addr: listen, Handler: mux}
	go func() {
		logger.L.With("component", "app").Info("metrics listener",
			slog.String("event", "metrics"),
			slog.String("listen", listen),
		)
		if err := a.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.L.With("component", "app").Error("metrics listener failed",
				slog.String("event", "metrics"),
				slog.String("err", err.Error()),
			)
		}
	}()
}

func (a *App) stopMetrics() {
	if a.metrics == nil {
		return
	}
	// The runner's context is already done during shutdown; give the
	// listener its own small grace period.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.metrics.Shutdown(shutdownCtx)
}
