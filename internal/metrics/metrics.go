// Package metrics exposes Prometheus counters and gauges for one pipeline
// run, served over HTTP by cmd/photodedupe's --metrics-addr flag the way
// other_examples/vjache-cie's cmd/cie index command exposes its own
// optional /metrics endpoint via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/localphoto/photodedupe/internal/pool"
	"github.com/localphoto/photodedupe/internal/rescan"
)

// Collector holds every counter/gauge one Engine updates across its
// lifetime, registered on its own Registry rather than the global default
// so multiple Engines (as in tests) never collide on metric names.
type Collector struct {
	Registry *prometheus.Registry

	pipelineRuns       prometheus.Counter
	filesScanned       prometheus.Counter
	featuresExtracted  prometheus.Counter
	featuresFailed     prometheus.Counter
	exactGroupsCreated prometheus.Counter
	nearGroupsCreated  prometheus.Counter
	rolesPromoted      prometheus.Counter
	rolesDowngraded    prometheus.Counter
	missingOverrideTargets prometheus.Counter
	poolQueued         prometheus.Gauge
	poolInFlight       prometheus.Gauge
	poolCompleted      prometheus.Gauge
	poolFailed         prometheus.Gauge
	poolSubmitted      prometheus.Gauge
	poolThrottleDeferrals prometheus.Gauge
	poolBackOffDeferrals  prometheus.Gauge
	poolStateTransitions  prometheus.Gauge
}

// NewCollector builds a Collector on a fresh Registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		Registry: reg,
		pipelineRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_pipeline_runs_total",
			Help: "Rescan Coordinator Run calls completed.",
		}),
		filesScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_files_scanned_total",
			Help: "Files reconciled against the store by the Scanner.",
		}),
		featuresExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_features_extracted_total",
			Help: "Files the Feature Extractor successfully processed.",
		}),
		featuresFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_features_failed_total",
			Help: "Files marked unprocessable by the Feature Extractor.",
		}),
		exactGroupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_exact_groups_created_total",
			Help: "Tier-1 exact-duplicate groups created by the Grouping Engine.",
		}),
		nearGroupsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_near_groups_created_total",
			Help: "Tier-2 near-duplicate groups created by the Grouping Engine.",
		}),
		rolesPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_roles_promoted_total",
			Help: "Group members promoted from duplicate to safe_duplicate by the Escalation Engine.",
		}),
		rolesDowngraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_roles_downgraded_total",
			Help: "Group members downgraded from safe_duplicate to duplicate by the Escalation Engine.",
		}),
		missingOverrideTargets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "photodedupe_missing_override_targets_total",
			Help: "Active overrides deactivated because their chosen file vanished.",
		}),
		poolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_queued_tasks",
			Help: "Worker Pool tasks currently queued.",
		}),
		poolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_inflight_tasks",
			Help: "Worker Pool tasks currently executing.",
		}),
		poolCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_completed_tasks_total",
			Help: "Worker Pool tasks completed successfully (cumulative).",
		}),
		poolFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_failed_tasks_total",
			Help: "Worker Pool tasks that returned an error (cumulative).",
		}),
		poolSubmitted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_submitted_tasks_total",
			Help: "Worker Pool tasks submitted (cumulative).",
		}),
		poolThrottleDeferrals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_throttle_deferrals_total",
			Help: "Worker Pool dispatches delayed by per-category I/O throttling (cumulative).",
		}),
		poolBackOffDeferrals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_back_off_deferrals_total",
			Help: "Worker Pool dispatches delayed by interaction back-off (cumulative).",
		}),
		poolStateTransitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "photodedupe_pool_state_transitions_total",
			Help: "Worker Pool run-state transitions (cumulative).",
		}),
	}
	reg.MustRegister(
		c.pipelineRuns, c.filesScanned, c.featuresExtracted, c.featuresFailed,
		c.exactGroupsCreated, c.nearGroupsCreated, c.rolesPromoted, c.rolesDowngraded,
		c.missingOverrideTargets,
		c.poolQueued, c.poolInFlight, c.poolCompleted, c.poolFailed,
		c.poolSubmitted, c.poolThrottleDeferrals, c.poolBackOffDeferrals, c.poolStateTransitions,
	)
	return c
}

// ObserveRun folds one rescan.Result into the run-scoped counters.
func (c *Collector) ObserveRun(res rescan.Result) {
	c.pipelineRuns.Inc()
	c.filesScanned.Add(float64(res.ScanResult.ScannedFiles))
	c.featuresExtracted.Add(float64(res.FeaturesExtracted))
	c.featuresFailed.Add(float64(res.FeaturesFailed))
	c.exactGroupsCreated.Add(float64(res.Grouping.ExactGroupsCreated))
	c.nearGroupsCreated.Add(float64(res.Grouping.NearGroupsCreated))
	c.rolesPromoted.Add(float64(res.Escalation.Promoted))
	c.rolesDowngraded.Add(float64(res.Escalation.Downgraded))
	c.missingOverrideTargets.Add(float64(res.MissingOverrideTargets))
}

// ObservePool snapshots the Worker Pool's point-in-time counters.
func (c *Collector) ObservePool(stats pool.Stats) {
	c.poolQueued.Set(float64(stats.Queued))
	c.poolInFlight.Set(float64(stats.InFlight))
	c.poolCompleted.Set(float64(stats.Completed))
	c.poolFailed.Set(float64(stats.Failed))
	c.poolSubmitted.Set(float64(stats.Submitted))
	c.poolThrottleDeferrals.Set(float64(stats.ThrottleDeferrals))
	c.poolBackOffDeferrals.Set(float64(stats.BackOffDeferrals))
	c.poolStateTransitions.Set(float64(stats.StateTransitions))
}
