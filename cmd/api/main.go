package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/a2urelay/internal/api"
	"github.com/punchamoorthee/a2urelay/internal/config"
	"github.com/punchamoorthee/a2urelay/internal/ledger"
	"github.com/punchamoorthee/a2urelay/internal/processor"
	"github.com/punchamoorthee/a2urelay/internal/service"
	"github.com/punchamoorthee/a2urelay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()

	paymentStore, closeStore := openStore(ctx, cfg)
	defer closeStore()

	var l service.Ledger
	switch cfg.LedgerMode {
	case config.LedgerMock:
		log.Printf("[WARN] LEDGER_MODE=mock: payments are NOT submitted to %s", cfg.HorizonURL)
		l = ledger.NewMockClient(cfg.MockSourceAddress, cfg.MockSourceBalance, cfg.LedgerBaseFee)
	default:
		hc, err := ledger.NewHorizonClient(cfg.HorizonURL, cfg.NetworkPassphrase, cfg.AppPrivateKey, cfg.LedgerBaseFee, cfg.ExternalCallTimeout)
		if err != nil {
			log.Fatalf("Unable to configure ledger client: %v", err)
		}
		l = hc
	}

	var p service.Processor
	switch cfg.ProcessorMode {
	case config.ProcessorMock:
		log.Printf("[WARN] PROCESSOR_MODE=mock: payments are NOT registered with %s", cfg.ProcessorBaseURL)
		p = processor.NewMockClient()
	default:
		p = processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ExternalCallTimeout)
	}

	// Initialize Layers
	svc := service.NewPaymentService(paymentStore, p, l, service.Options{
		Approve:     cfg.ProcessorApprove,
		CallTimeout: cfg.ExternalCallTimeout,
	})
	handler := api.NewHandler(svc)

	// Router
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods(http.MethodGet)
	handler.Routes(r.PathPrefix("/api").Subrouter())

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "Idempotency-Key"}),
	)(h)
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(cfg.Env != "production"))(h)
	h = handlers.CombinedLoggingHandler(os.Stdout, h)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env %s, ledger %s, processor %s, store %s)",
			cfg.Port, cfg.Env, cfg.LedgerMode, cfg.ProcessorMode, cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*cfg.ExternalCallTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (service.PaymentStore, func()) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Println("[WARN] STORE_DRIVER=memory: payment records are lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	pg, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	if cfg.AutoMigrate {
		applied, err := store.Migrate(ctx, pg.Db)
		if err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Printf("[INFO] applied %d migration(s)", len(applied))
	}
	return pg, pg.Close
}
