// Package otel bridges the in-process metrics of a Coordinator to
// OpenTelemetry observable instruments. The exporter pulls a snapshot on
// every collection cycle; the hot paths never touch the OTel SDK.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/relife-labs/authcore"
)

var (
	// ErrNilMeter is returned when no meter is provided.
	ErrNilMeter = errors.New("nil meter")
	// ErrNilSource is returned when no metrics source is provided.
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   authcore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Successful credential and OAuth2 logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Rejected login attempts."},
	{authcore.MetricLoginRateLimited, "authcore_login_rate_limited_total", "Logins blocked by the throttle."},
	{authcore.MetricGuestLogin, "authcore_guest_login_total", "Guest sessions issued."},
	{authcore.MetricOAuthExchangeFailure, "authcore_oauth_exchange_failure_total", "Failed provider exchanges."},
	{authcore.MetricRefreshSuccess, "authcore_refresh_success_total", "Successful token rotations."},
	{authcore.MetricRefreshFailure, "authcore_refresh_failure_total", "Rejected refresh attempts."},
	{authcore.MetricRefreshRateLimited, "authcore_refresh_rate_limited_total", "Refreshes blocked by the throttle."},
	{authcore.MetricReplayDetected, "authcore_replay_detected_total", "Refresh-token reuse detections."},
	{authcore.MetricSessionCreated, "authcore_session_created_total", "Session records created."},
	{authcore.MetricSessionRevoked, "authcore_session_revoked_total", "Session records revoked."},
	{authcore.MetricLogout, "authcore_logout_total", "Explicit single-session logouts."},
	{authcore.MetricLogoutAll, "authcore_logout_all_total", "Subject-wide logouts."},
	{authcore.MetricStoreUnavailable, "authcore_store_unavailable_total", "Operations failed on store outage."},
}

const histogramName = "authcore_authenticate_latency"

var histogramBoundSuffix = [8]string{"1ms", "2ms", "5ms", "10ms", "25ms", "50ms", "100ms", "inf"}

// Exporter registers observable instruments that mirror a Coordinator's
// metrics snapshot. Close unregisters the callback.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []metric.Int64ObservableCounter
	buckets      [8]metric.Int64ObservableGauge
	count        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewExporter wires a Coordinator's snapshot into the given meter.
func NewExporter(meter metric.Meter, coordinator *authcore.Coordinator) (*Exporter, error) {
	return NewExporterFromSource(meter, coordinator)
}

// NewExporterFromSource is the test seam behind [NewExporter].
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]metric.Int64ObservableCounter, 0, len(counterDefs)),
	}

	observables := make([]metric.Observable, 0, len(counterDefs)+len(histogramBoundSuffix)+2)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, ins)
		observables = append(observables, ins)
	}

	for i, suffix := range histogramBoundSuffix {
		name := histogramName + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
		}
		exporter.buckets[i] = ins
		observables = append(observables, ins)
	}

	count, err := meter.Int64ObservableGauge(histogramName+"_count", metric.WithDescription("Histogram total sample count."))
	if err != nil {
		return nil, fmt.Errorf("create histogram count gauge: %w", err)
	}
	exporter.count = count
	observables = append(observables, count)

	auditDropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()

		for i, def := range counterDefs {
			observer.ObserveInt64(exporter.counters[i], int64(snapshot.Counters[def.id]))
		}

		cumulative := cumulativeBuckets(snapshot.Histograms[authcore.MetricAuthenticateLatency])
		for i := range cumulative {
			observer.ObserveInt64(exporter.buckets[i], int64(cumulative[i]))
		}
		observer.ObserveInt64(exporter.count, int64(cumulative[len(cumulative)-1]))

		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func cumulativeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(out); i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
