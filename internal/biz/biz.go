// Package biz contains the polling, deduplication and acknowledgment pipeline.
// Collaborator interfaces are declared here and implemented in the data layer.
package biz

import (
	"OrderRelay/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRetryEngine,
	NewCircuitBreakers,
	NewRateLimiterUseCase,
	NewDeduplicator,
	NewCredentialCache,
	NewMetrics,
	NewAlertManager,
	NewAPIResponseMonitor,
	NewResourceMonitor,
	NewComplianceMonitor,
	NewAcknowledger,
	NewSessionManager,
	// Import data layer providers
	data.NewEventSource,
	data.NewEventStore,
	data.NewCredentialRepo,
	data.NewRateLimitRepo,
	data.NewCircuitStateRepo,
	data.NewAuditLogger,
	data.NewAlertRepo,
	data.NewNoopAlertNotifier,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(EventSource), new(*data.EventSource)),
	wire.Bind(new(EventStore), new(*data.EventStore)),
	wire.Bind(new(CredentialProvider), new(*data.CredentialRepo)),
	wire.Bind(new(RateLimitRepo), new(*data.RateLimitRepo)),
	wire.Bind(new(CircuitStateRepo), new(*data.CircuitStateRepo)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
	wire.Bind(new(AlertRepo), new(*data.AlertRepo)),
	wire.Bind(new(AlertNotifier), new(*data.NoopAlertNotifier)),
)
