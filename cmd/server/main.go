package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-db-manager/internal/model"
	"github.com/teresa-solution/tenant-db-manager/internal/monitoring"
	"github.com/teresa-solution/tenant-db-manager/internal/schema"
	"github.com/teresa-solution/tenant-db-manager/internal/service"
	"github.com/teresa-solution/tenant-db-manager/internal/store"
)

// tenantMetadata declares the per-tenant schema domain that every tenant
// database is synchronized against.
var tenantMetadata = schema.StaticMetadata{
	{
		Name: "users",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: "BIGINT"},
			{Name: "email", Type: "VARCHAR(255)"},
			{Name: "display_name", Type: "VARCHAR(255)", Nullable: true},
			{Name: "created_at", Type: "DATETIME2"},
		},
		PrimaryKey: []string{"id"},
	},
	{
		Name: "settings",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: "BIGINT"},
			{Name: "name", Type: "VARCHAR(128)"},
			{Name: "value", Type: "VARCHAR(1024)", Nullable: true},
		},
		PrimaryKey: []string{"id"},
	},
	{
		Name: "api_keys",
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: "BIGINT"},
			{Name: "user_id", Type: "BIGINT"},
			{Name: "key_hash", Type: "VARCHAR(128)"},
			{Name: "revoked_at", Type: "DATETIME2", Nullable: true},
		},
		PrimaryKey: []string{"id"},
	},
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		httpPort     = flag.Int("http-port", 8081, "Port for health checks and metrics")
		dbHost       = flag.String("db-host", "localhost", "Control database host")
		dbPort       = flag.Int("db-port", 5432, "Control database port")
		dbUser       = flag.String("db-user", "admin", "Control database user")
		dbPass       = flag.String("db-pass", "securepassword", "Control database password")
		dbName       = flag.String("db-name", "tenant_control", "Control database name")
		baseURL      = flag.String("base-url", "sqlsrv://sa@127.0.0.1:1433/control", "Base connection URL for the tenant database server")
		serverDriver = flag.String("server-driver", string(model.DefaultDriver), "Driver of the tenant database server (mysql, pgsql, sqlsrv)")
		redisAddr    = flag.String("redis-addr", "", "Redis address for the registry cache (empty disables caching)")
	)
	flag.Parse()

	controlDSN := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		*dbHost, *dbPort, *dbUser, *dbPass, *dbName)

	registry, err := store.NewRegistry(controlDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to control database")
	}
	defer registry.Close()

	if *redisAddr != "" {
		registry.UseCache(redis.NewClient(&redis.Options{Addr: *redisAddr}))
	}

	lifecycle, err := service.NewLifecycleService(*baseURL, model.DriverType(*serverDriver), registry, tenantMetadata)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid base connection URL")
	}

	monitoring.InitMetrics()

	provisioner := service.NewProvisioningService(lifecycle, registry)
	defer provisioner.Stop()

	// Resume records that never finished provisioning.
	ctx := context.Background()
	for _, status := range []model.DatabaseStatus{model.StatusNotCreated, model.StatusCreated} {
		pending, err := registry.ListByStatus(ctx, status)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to list pending tenant databases")
		}
		for _, rec := range pending {
			log.Info().Str("database", rec.DBName).Str("status", string(rec.DatabaseStatus)).Msg("Queueing tenant database")
			provisioner.QueueForProvisioning(rec)
		}
	}

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		httpServer := &http.Server{
			Addr:    fmt.Sprintf(":%d", *httpPort),
			Handler: mux,
		}

		log.Info().Msgf("HTTP server for health checks and metrics started on port %d", *httpPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")
}
