// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	awsclient "permit-workers/internal/common/aws"
	"permit-workers/internal/common/camunda"
	"permit-workers/internal/common/config"
	"permit-workers/internal/common/database"
	"permit-workers/internal/common/logger"
	"permit-workers/internal/common/observability"
	"permit-workers/internal/common/validation"
	"permit-workers/internal/permit/assessment"
	"permit-workers/internal/permit/audit"
	"permit-workers/internal/permit/catalog"
	"permit-workers/internal/permit/notify"
	"permit-workers/internal/permit/sequence"
	"permit-workers/internal/permit/store"
	"permit-workers/internal/permit/workflow"
	"permit-workers/internal/workers/permit/permitjob"
	"permit-workers/pkg/registry"

	ca "permit-workers/internal/workers/permit/create-application"
	da "permit-workers/internal/workers/permit/delete-application"
	ip "permit-workers/internal/workers/permit/issue-permit"
	maf "permit-workers/internal/workers/permit/manage-assessed-fee"
	rp "permit-workers/internal/workers/permit/record-payment"
	rel "permit-workers/internal/workers/permit/release-permit"
	ra "permit-workers/internal/workers/permit/renew-application"
	rva "permit-workers/internal/workers/permit/review-assessment"
	sa "permit-workers/internal/workers/permit/submit-assessment"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting permit worker manager...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	if cfg.Database.Postgres.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			zapLog.Fatal("schema bootstrap failed", zap.Error(err))
		}
	}
	caps, err := database.ProbeCapabilities(ctx, pg.DB)
	if err != nil {
		zapLog.Fatal("capability probe failed", zap.Error(err))
	}
	zapLog.Info("schema capabilities", zap.Bool("renewalLink", caps.RenewalLink))

	// --- Redis (catalog cache, optional) ---
	var rdb *redis.Client
	if cfg.Database.Redis.Enabled {
		var rc *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rc, err = database.NewRedis(cfg.Database.Redis)
			if err != nil {
				return err
			}
			return rc.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer rc.Close()
		rdb = rc.Client
		zapLog.Info("Redis connected successfully")
	}

	// --- Elasticsearch (audit index, optional) ---
	var indexer audit.Indexer
	if cfg.Database.Elasticsearch.Enabled {
		var esClient *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		indexer = esClient
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- AWS notification channels (optional) ---
	var sesClient awsclient.SESService
	var snsClient awsclient.SNSService
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		awsCfg, err := awsclient.LoadConfig(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("aws config load failed", zap.Error(err))
		}
		if cfg.Notifications.Email.Enabled {
			sesClient = awsclient.NewSESClient(awsCfg)
		}
		if cfg.Notifications.SMS.Enabled {
			snsClient = awsclient.NewSNSClient(awsCfg)
		}
	}

	// --- Permit services ---
	weights, err := config.ParseInstallmentWeights(cfg.Assessment.InstallmentWeights)
	if err != nil {
		zapLog.Fatal("invalid installment weights", zap.Error(err))
	}
	calculator, err := assessment.NewCalculator(weights)
	if err != nil {
		zapLog.Fatal("assessment calculator", zap.Error(err))
	}
	periodZone, err := time.LoadLocation(cfg.Permit.PeriodTimezone)
	if err != nil {
		zapLog.Fatal("invalid period timezone", zap.Error(err))
	}

	cat := catalog.New(pg.DB, rdb, cfg.CatalogCacheTTL(), log.WithFields(map[string]interface{}{"component": "catalog"}))
	recorder := audit.NewRecorder(pg.DB, indexer, cfg.Permit.AuditIndex, log.WithFields(map[string]interface{}{"component": "audit"}))
	dispatcher := notify.NewDispatcher(notify.Config{
		EmailEnabled: cfg.Notifications.Email.Enabled,
		FromEmail:    cfg.Notifications.Email.FromEmail,
		SMSEnabled:   cfg.Notifications.SMS.Enabled,
		RoleTopics:   cfg.Notifications.SMS.RoleTopics,
		LinkBaseURL:  cfg.Notifications.LinkBaseURL,
	}, pg.DB, cat, sesClient, snsClient, log.WithFields(map[string]interface{}{"component": "notify"}))

	svc := workflow.NewService(workflow.Deps{
		DB:                 pg.DB,
		Store:              store.New(caps),
		Allocator:          sequence.NewAllocator(periodZone),
		Calculator:         calculator,
		Catalog:            cat,
		Audit:              recorder,
		Notifier:           dispatcher,
		Observability:      obs,
		Logger:             log.WithFields(map[string]interface{}{"component": "workflow"}),
		TransactionTimeout: cfg.TransactionTimeout(),
	})

	// --- Activity registry / input schemas ---
	reg, err := registry.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		zapLog.Fatal("activity registry load failed", zap.String("path", cfg.RegistryPath), zap.Error(err))
	}
	validator, err := validation.NewSchemaValidator(reg)
	if err != nil {
		zapLog.Fatal("activity registry schemas invalid", zap.Error(err))
	}

	// --- Zeebe ---
	zeebe, err := camunda.NewClientWithConfig(&camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         time.Duration(cfg.Camunda.RequestTimeout) * time.Millisecond,
		RetryConfig: &camunda.RetryConfig{
			MaxRetries: 10,
			BaseDelay:  2 * time.Second,
			MaxDelay:   30 * time.Second,
		},
	})
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Register permit workers ---
	type registration struct {
		taskType string
		config   *permitjob.Config
		handler  camunda.JobHandler
	}

	var registrations []registration
	add := func(taskType string, wcfg *permitjob.Config, build func(*permitjob.Config) camunda.JobHandler) {
		if !wcfg.Enabled {
			zapLog.Info("worker disabled", zap.String("taskType", taskType))
			return
		}
		if !validator.Has(taskType) {
			zapLog.Warn("no input schema registered", zap.String("taskType", taskType))
		}
		registrations = append(registrations, registration{taskType, wcfg, build(wcfg)})
	}

	add(ca.TaskType, ca.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return ca.NewHandler(c, svc, validator, obs, log)
	})
	add(maf.TaskType, maf.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return maf.NewHandler(c, svc, validator, obs, log)
	})
	add(sa.TaskType, sa.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return sa.NewHandler(c, svc, validator, obs, log)
	})
	add(rva.TaskType, rva.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return rva.NewHandler(c, svc, validator, obs, log)
	})
	add(rp.TaskType, rp.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return rp.NewHandler(c, svc, validator, obs, log)
	})
	add(ip.TaskType, ip.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return ip.NewHandler(c, svc, validator, obs, log)
	})
	add(rel.TaskType, rel.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return rel.NewHandler(c, svc, validator, obs, log)
	})
	add(ra.TaskType, ra.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return ra.NewHandler(c, svc, validator, obs, log)
	})
	add(da.TaskType, da.LoadConfig(cfg), func(c *permitjob.Config) camunda.JobHandler {
		return da.NewHandler(c, svc, validator, obs, log)
	})

	workers := make([]*camunda.CamundaWorker, 0, len(registrations))
	for _, r := range registrations {
		// The broker lock outlives the handler deadline so a timed-out
		// handler can still report its failure.
		lock := r.config.Timeout + 5*time.Second
		workers = append(workers, camunda.NewWorker(zeebe.GetClient(), r.taskType, r.config.MaxJobsActive, lock, r.handler, log))
	}
	zapLog.Info("permit workers registered", zap.Int("count", len(workers)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := map[string]string{"postgres": "ok", "zeebe": "ok"}
		status := http.StatusOK
		if err := pg.Ping(checkCtx); err != nil {
			checks["postgres"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := zeebe.HealthCheck(checkCtx); err != nil {
			checks["zeebe"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		label := "ready"
		if status != http.StatusOK {
			label = "not ready"
		}
		writeStatus(w, status, label, checks)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		body["checks"] = checks
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
