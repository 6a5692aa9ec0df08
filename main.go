package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cartapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/cart"
	checkoutapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/checkout"
	invapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/application/notification"
	ordapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	payapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	refundapp "github.com/Zhima-Mochi/minishop-checkout/internal/application/refund"
	domorder "github.com/Zhima-Mochi/minishop-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/minishop-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/notify"
	infraobs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/provider"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/provider/paypal"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/provider/stripe"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/redisstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/sqlstore"
	"github.com/Zhima-Mochi/minishop-checkout/internal/pkg/config"
	"github.com/Zhima-Mochi/minishop-checkout/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The configured logger does not exist yet; report with the defaults.
		def := config.Default().Service
		bootstrap := logging.MustNewLogger(def.Name, def.Env, logging.Options{})
		bootstrap.Fatal("config_load_failed", zap.Error(err), zap.String("config_file", *configPath))
	}

	baseLogger := logging.MustNewLogger(cfg.Service.Name, cfg.Service.Env, logging.Options{Level: cfg.Service.LogLevel})
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)
	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	if err := run(cfg, baseLogger, systemLogger); err != nil {
		systemLogger.Fatal("service_failed", zap.Error(err))
	}
}

func run(cfg config.Config, baseLogger, systemLogger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := oteltrace.Setup(ctx, oteltrace.Config{
		ServiceName: cfg.Service.Name,
		Environment: cfg.Service.Env,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	instruments := infraobs.RegisterDefaults(prometrics.New(promReg, "", ""), prometheus.DefBuckets)
	logger := zaplogger.New(baseLogger)
	tel := infraobs.New(oteltrace.New(cfg.Service.Name), logger, instruments)

	db, err := sqlstore.Open(ctx, sqlstore.Options{
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			systemLogger.Warn("store_close_error", zap.Error(err))
		}
	}()
	if cfg.CatalogFile != "" {
		catalog, err := sqlstore.LoadCatalog(cfg.CatalogFile)
		if err != nil {
			return err
		}
		switch {
		case catalog.Currency == "":
			catalog.Currency = cfg.Checkout.Currency
		case !strings.EqualFold(catalog.Currency, cfg.Checkout.Currency):
			return fmt.Errorf("catalog currency %s does not match checkout currency %s", catalog.Currency, cfg.Checkout.Currency)
		}
		if err := db.Seed(ctx, catalog); err != nil {
			return err
		}
		systemLogger.Info("catalog_seeded",
			zap.String("file", cfg.CatalogFile),
			zap.Int("products", len(catalog.Products)),
			zap.Int("coupons", len(catalog.Coupons)),
		)
	}

	var (
		gateways  []dompay.Gateway
		providers []string
	)
	if cfg.StripeEnabled() {
		gateways = append(gateways, stripe.New(stripe.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			BaseURL:       cfg.Stripe.BaseURL,
			Tolerance:     cfg.Stripe.WebhookTolerance,
		}, tel, provider.WithTimeout(cfg.Stripe.Timeout)))
		providers = append(providers, string(dompay.ProviderStripe))
	}
	if cfg.PayPalEnabled() {
		pp, err := paypal.New(paypal.Config{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			WebhookID:    cfg.PayPal.WebhookID,
			BaseURL:      cfg.PayPal.BaseURL,
			BrandName:    cfg.PayPal.BrandName,
		}, tel, provider.WithTimeout(cfg.PayPal.Timeout))
		if err != nil {
			return err
		}
		gateways = append(gateways, pp)
		providers = append(providers, string(dompay.ProviderPayPal))
	}
	if len(gateways) == 0 {
		systemLogger.Warn("no_payment_provider_configured")
	}
	registry := dompay.NewRegistry(gateways...)

	health := []func(context.Context) error{db.Ping}
	var idem ordapp.IdempotencyStore
	if cfg.Redis.Addr != "" {
		opts := redisstore.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.IdempotencyTTL,
		}
		client := redisstore.NewClient(opts)
		defer func() { _ = client.Close() }()
		store := redisstore.NewIdempotencyStore(client, opts)
		idem = store
		health = append(health, store.Ping)
	} else {
		idem = memory.NewIdempotencyStore(cfg.Redis.IdempotencyTTL)
	}

	bus := outbox.NewBus(logger)
	notification.NewWorker(bus, notify.NewLogNotifier(logger), workerpresentation.EventContext(tel, map[string]string{
		"component": "notification_worker",
	}), tel).Start()
	bus.Start(context.Background())

	ids := id.NewUUIDGenerator()
	pricing := domorder.Pricing{
		Currency:         cfg.Checkout.Currency,
		TaxRate:          cfg.Checkout.Rate(),
		FreeShippingOver: cfg.Checkout.FreeShippingOver,
		FlatShipping:     cfg.Checkout.FlatShipping,
	}
	createOrder := ordapp.NewCreateOrderUseCase(db, pricing, ids, idem, bus, tel)
	cancelOrder := ordapp.NewCancelOrderUseCase(db, bus, tel)
	createHandle := payapp.NewCreateHandleUseCase(db, registry, ids, payapp.URLs{
		Return: cfg.FrontendURL + "/checkout/success",
		Cancel: cfg.FrontendURL + "/checkout/cancel",
	}, tel)

	handler := httppresentation.NewHandler(httppresentation.Deps{
		Cart:           cartapp.NewService(db, pricing),
		CreateOrder:    createOrder,
		CancelOrder:    cancelOrder,
		AdvanceStatus:  ordapp.NewAdvanceStatusUseCase(db, bus, tel),
		UpdateTracking: ordapp.NewUpdateTrackingUseCase(db, bus, tel),
		Orders:         ordapp.NewQueryService(db),
		Checkout:       checkoutapp.NewUseCase(createOrder, cancelOrder, createHandle, tel),
		CreateHandle:   createHandle,
		Confirm:        payapp.NewConfirmUseCase(db, registry, ids, bus, tel),
		Reconcile:      payapp.NewReconcileUseCase(db, registry, ids, bus, tel),
		Refund:         refundapp.NewUseCase(db, registry, ids, bus, tel),
		Payments:       payapp.NewHistoryService(db),
		Restock:        invapp.NewRestockUseCase(db, bus, tel),
		Stock:          invapp.NewService(db),
		PaymentConfig: httppresentation.PaymentConfig{
			Currency:             cfg.Checkout.Currency,
			Providers:            providers,
			StripePublishableKey: cfg.Stripe.PublishableKey,
			PayPalClientID:       cfg.PayPal.ClientID,
		},
		Health: func(ctx context.Context) error {
			for _, check := range health {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}, tel)

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: handler.Router(map[string]http.Handler{
			"/metrics": promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
		}),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.Strings("providers", providers),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		systemLogger.Error("http_server_error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", zap.Error(err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	// In-flight requests have returned; drain what they published.
	if err := bus.Stop(shutdownCtx); err != nil {
		systemLogger.Warn("event_bus_drain_incomplete", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		systemLogger.Warn("tracer_shutdown_error", zap.Error(err))
	}
	return runErr
}
