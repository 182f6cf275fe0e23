package service

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/teresa-solution/tenant-db-manager/internal/model"
	"github.com/teresa-solution/tenant-db-manager/internal/monitoring"
)

// ProvisioningService drives queued tenant databases through the full
// lifecycle in the background: physical creation, then schema
// synchronization, advancing the registry status after each step succeeds.
// A single worker goroutine processes the queue, so schema-sync jobs never
// interleave.
type ProvisioningService struct {
	svc          *LifecycleService
	registry     Registry
	provisioning chan *model.TenantDatabase
}

// NewProvisioningService starts the background worker.
func NewProvisioningService(svc *LifecycleService, registry Registry) *ProvisioningService {
	ps := &ProvisioningService{
		svc:          svc,
		registry:     registry,
		provisioning: make(chan *model.TenantDatabase, 10),
	}
	go ps.startProvisioningWorker()
	return ps
}

// QueueForProvisioning adds a tenant database to the provisioning queue.
func (ps *ProvisioningService) QueueForProvisioning(rec *model.TenantDatabase) {
	ps.provisioning <- rec
}

// Stop drains the queue; queued records are still processed.
func (ps *ProvisioningService) Stop() {
	close(ps.provisioning)
}

func (ps *ProvisioningService) startProvisioningWorker() {
	for rec := range ps.provisioning {
		log.Info().Str("database", rec.DBName).Msg("Starting provisioning process")
		if err := ps.provision(rec); err != nil {
			monitoring.DatabasesProvisioned.WithLabelValues("error").Inc()
			monitoring.MockAlert("tenant database provisioning failed", map[string]string{
				"database": rec.DBName,
				"error":    err.Error(),
			})
			log.Error().Err(err).Str("database", rec.DBName).Msg("Provisioning failed")
		}
	}
}

// provision advances one record as far as its current status allows:
// not_created records get their physical database first; schema sync then
// runs for every record. Failed steps are not retried here; callers re-queue
// after fixing the underlying cause.
func (ps *ProvisioningService) provision(rec *model.TenantDatabase) error {
	ctx := context.Background()

	if rec.DatabaseStatus == model.StatusNotCreated {
		if err := ps.registry.CreateProvisioningLog(ctx, rec.ID, "create_database", "pending", nil); err != nil {
			return err
		}

		if _, err := ps.svc.CreateDatabase(ctx, rec); err != nil {
			ps.logStep(ctx, rec, "create_database", "failed", map[string]interface{}{"error": err.Error()})
			return err
		}
		if err := ps.registry.UpdateStatus(ctx, rec.ID, model.StatusCreated); err != nil {
			return fmt.Errorf("mark %q created: %w", rec.DBName, err)
		}
		rec.DatabaseStatus = model.StatusCreated
		ps.logStep(ctx, rec, "create_database", "success", nil)
		monitoring.DatabasesProvisioned.WithLabelValues("created").Inc()
	}

	ps.logStep(ctx, rec, "schema_sync", "in_progress", nil)
	timer := prometheus.NewTimer(monitoring.SchemaSyncDuration)
	err := ps.svc.CreateSchemaInDB(ctx, rec.ID)
	timer.ObserveDuration()
	if err != nil {
		ps.logStep(ctx, rec, "schema_sync", "failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	ps.logStep(ctx, rec, "schema_sync", "success", nil)
	monitoring.DatabasesProvisioned.WithLabelValues("migrated").Inc()
	return nil
}

func (ps *ProvisioningService) logStep(ctx context.Context, rec *model.TenantDatabase, step, status string, details map[string]interface{}) {
	if err := ps.registry.CreateProvisioningLog(ctx, rec.ID, step, status, details); err != nil {
		log.Error().Err(err).Str("database", rec.DBName).Str("step", step).Msg("Failed to record provisioning log")
	}
}
