package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/paygate/pkg/httpserver"
	"github.com/dmitrymomot/paygate/pkg/scheduler"
	"github.com/dmitrymomot/paygate/svc/api"
	"github.com/dmitrymomot/paygate/svc/ingest"
)

func newServeCmd(load func() (appConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks and the API, pull Play notifications and run the expiration sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.close(context.WithoutCancel(cmd.Context()))
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	engine, err := a.engine()
	if err != nil {
		return err
	}
	accounts, err := a.accounts()
	if err != nil {
		return err
	}
	products, err := a.catalog()
	if err != nil {
		return err
	}
	sweeper, err := a.sweeper()
	if err != nil {
		return err
	}
	verifier, err := appStoreVerifier(a.cfg.AppStore, a.log)
	if err != nil {
		return err
	}

	opts := []ingest.Option{ingest.WithLogger(a.log), ingest.WithMetrics(a.metrics), ingest.WithSink(a.sink)}
	android := ingest.NewAndroid(engine, accounts, products, a.cfg.Android, opts...)
	handlers := api.Handlers{
		AppStore:     ingest.NewAppStore(engine, accounts, products, verifier, a.cfg.AppStore, opts...),
		Android:      android,
		Entitlements: a.resolver(),
		Payments:     a.store,
		Logger:       a.log,
		Metrics:      a.metrics,
	}
	if a.cfg.Stripe.WebhookSecret != "" {
		handlers.Stripe = ingest.NewStripe(engine, accounts, products, a.cfg.Stripe, opts...)
	} else {
		a.log.WarnContext(ctx, "stripe webhook disabled: STRIPE_WEBHOOK_SECRET is not set")
	}

	router := chi.NewRouter()
	router.Get("/healthz", httpserver.HealthCheckHandler(a.log, a.checks...))
	router.Handle(a.cfg.Paygate.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	router.Mount("/", api.NewRouter(handlers))

	schedule, err := scheduler.Parse(a.cfg.Paygate.SweepSchedule)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.WithLogger(a.log))
	if err := sched.Add("expiration-sweep", schedule, func(ctx context.Context) error {
		_, err := sweeper.Run(ctx)
		return err
	}, false); err != nil {
		return err
	}

	var receiver *ingest.PubSubReceiver
	if a.cfg.PubSub.Enabled() {
		client, sub, err := ingest.Subscribe(ctx, a.cfg.PubSub)
		if err != nil {
			return fmt.Errorf("subscribe to play notifications: %w", err)
		}
		defer client.Close()
		receiver = ingest.NewPubSubReceiver(sub, android, a.log)
	} else {
		a.log.InfoContext(ctx, "play notification receiver disabled: pub/sub is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(a.cfg.HTTP, a.log).Run(ctx, router)
	})
	g.Go(func() error {
		return sched.Start(ctx)
	})
	if receiver != nil {
		g.Go(func() error {
			return receiver.Run(ctx)
		})
	}

	a.log.InfoContext(ctx, "paygate started", slog.String("version", Version))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func appStoreVerifier(cfg ingest.AppStoreConfig, log *slog.Logger) (ingest.PayloadVerifier, error) {
	if cfg.SkipVerification {
		log.Warn("app store signature verification disabled")
		return ingest.UnverifiedDecoder{}, nil
	}
	if cfg.RootCertPath == "" {
		return nil, fmt.Errorf("%w: APPSTORE_ROOT_CERT_PATH is required unless APPSTORE_SKIP_VERIFICATION is set", errInvalidConfig)
	}
	roots, err := ingest.LoadRoots(cfg.RootCertPath)
	if err != nil {
		return nil, err
	}
	return ingest.NewX5CVerifier(roots), nil
}
