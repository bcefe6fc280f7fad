package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm-sync/infrastructure/logger"
	"crm-sync/infrastructure/scheduler"
	"crm-sync/infrastructure/utils"
	httpHandler "crm-sync/interfaces/http"
	"crm-sync/interfaces/middleware"
	"crm-sync/server"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func recoverPanic() {
	if err := recover(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Application panic recovered")
		os.Exit(2)
	}
}

func main() {
	defer recoverPanic()
	cmd := &cli.Command{
		Name:  "crm-sync",
		Usage: "CRM integration and bidirectional sync service",
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			syncCommand(),
			tokenCommand(),
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.GetLogger().WithField("error", err).Error("Command failed")
		os.Exit(1)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP server, scheduled sync and push workers",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Sources: cli.EnvVars("AUTO_MIGRATE"),
				Name:    "migrate",
				Usage:   "bootstrap the schema before serving",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if c.Bool("migrate") {
				if err := migrate(ctx, a.db); err != nil {
					return err
				}
			}
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.pushQueue.Run(ctx, a.push.Handle)
	})

	syncScheduler := scheduler.NewSyncScheduler(a.sync, a.cfg.CRM.SyncInterval())
	if err := syncScheduler.Start(); err != nil {
		return err
	}
	defer syncScheduler.Stop()

	integrationHandler := httpHandler.NewIntegrationHandler(a.oauth, a.sync)
	router := server.InitiateRouter(server.RouterConfig{
		Auth:           middleware.AuthConfig{SecretKey: a.cfg.App.SecretKey, LoginPath: a.cfg.App.LoginPath},
		AllowedOrigins: a.cfg.App.AllowedOrigins,
	},
		httpHandler.NewHealthHandler(a.db),
		integrationHandler,
		httpHandler.NewWebhookHandler(a.webhooks),
		httpHandler.NewRecipientHandler(a.recipients),
	)

	appCfg := a.cfg.App
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", appCfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.GetLogger().WithFields(map[string]interface{}{"port": appCfg.Port, "tls": appCfg.TLSEnabled}).Info("Starting application")
	g.Go(func() error {
		var err error
		if appCfg.TLSEnabled && appCfg.TLSCertFile != "" && appCfg.TLSKeyFile != "" {
			err = httpServer.ListenAndServeTLS(appCfg.TLSCertFile, appCfg.TLSKeyFile)
		} else {
			if appCfg.TLSEnabled {
				logger.GetLogger().Error("TLS enabled but cert or key path empty; falling back to HTTP")
			}
			err = httpServer.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.GetLogger().Info("Application shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		a.sync.Wait()
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.GetLogger().WithField("error", err).Error("Server returned an error")
		return err
	}
	return nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "create or update the integrations, recipients and sync_logs tables",
		Action: func(ctx context.Context, _ *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrate(ctx, db)
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "run one sync for an organization and print the summary",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "org",
				Usage:    "organization id",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "full",
				Usage: "ignore the last sync time and pull every record",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.sync.TriggerSync(ctx, c.String("org"), c.Bool("full"))
			if err != nil {
				return err
			}
			logger.GetLogger().
				WithField("organization_id", c.String("org")).
				WithField("status", summary.Status).
				WithField("processed", summary.RecordsProcessed).
				WithField("updated", summary.RecordsUpdated).
				WithField("failed", summary.RecordsFailed).
				Info("Sync finished")
			if summary.Error != "" {
				fmt.Fprintln(os.Stderr, summary.Error)
			}
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print a session token for local development",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "org", Usage: "organization id", Required: true},
			&cli.StringFlag{Name: "user", Usage: "user id", Value: "dev-user"},
			&cli.StringFlag{Name: "role", Usage: "session role", Value: "admin"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: 12 * time.Hour},
		},
		Action: func(_ context.Context, c *cli.Command) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.App.SecretKey == "" {
				return errors.New("app.secretKey (SECRET_KEY) is required to sign session tokens")
			}
			token, err := utils.GenerateSessionToken(c.String("user"), c.String("org"), c.String("role"), cfg.App.SecretKey, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}
