package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/collector"
	"ohmycoins/src/metrics"
	"ohmycoins/src/repository"
)

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthFailing  = "failing"

	healthyMinRate  = 0.95
	degradedMinRate = 0.80
)

// job is one scheduled collector. The collector row is reloaded before each
// run so config edits take effect without re-registration.
type job struct {
	name     string
	schedule Schedule

	trigger chan struct{}
	quit    chan struct{}

	// shared per collector name so a replacement job cannot overlap the
	// in-flight run of the loop it displaced
	running *int32
	skipped int64

	mu        sync.Mutex
	lastRunAt *time.Time
	nextRunAt time.Time
	lastError string
}

// JobStatus is the point-in-time view reported for one collector.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Running   bool       `json:"running"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastError string     `json:"last_error,omitempty"`
	Skipped   int64      `json:"skipped_firings"`
}

type CollectorHealth struct {
	State       string  `json:"state"`
	SuccessRate float64 `json:"success_rate"`
	TotalRuns   int64   `json:"total_runs"`
}

type HealthReport struct {
	Overall     string                     `json:"overall"`
	ByCollector map[string]CollectorHealth `json:"by_collector"`
}

// Orchestrator owns the collector_name -> job mapping. One instance per
// process; running two against the same database double-fires every
// collector.
type Orchestrator struct {
	runner     *collector.Runner
	collectors *repository.CollectorRepository
	tracker    *metrics.Tracker

	mu      sync.Mutex
	jobs    map[string]*job
	guards  map[string]*int32
	started bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewOrchestrator(runner *collector.Runner, collectors *repository.CollectorRepository, tracker *metrics.Tracker) *Orchestrator {
	return &Orchestrator{
		runner:     runner,
		collectors: collectors,
		tracker:    tracker,
		jobs:       make(map[string]*job),
		guards:     make(map[string]*int32),
		stop:       make(chan struct{}),
	}
}

// Register adds or replaces the job for one collector. Replacing stops the
// old loop; an in-flight run completes on its own goroutine.
func (o *Orchestrator) Register(name, scheduleSpec string) error {
	schedule, err := ParseSchedule(scheduleSpec)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if old, exists := o.jobs[name]; exists {
		close(old.quit)
	}

	guard, exists := o.guards[name]
	if !exists {
		guard = new(int32)
		o.guards[name] = guard
	}

	j := &job{
		name:      name,
		schedule:  schedule,
		trigger:   make(chan struct{}, 1),
		quit:      make(chan struct{}),
		running:   guard,
		nextRunAt: schedule.Next(time.Now().UTC()),
	}
	o.jobs[name] = j

	if o.started {
		o.wg.Add(1)
		go o.runLoop(j)
	}

	logger.WithFields(map[string]interface{}{
		"collector": name,
		"schedule":  schedule.String(),
	}).Info("Registered collector job")
	return nil
}

// Unregister removes a job. The in-flight run, if any, completes.
func (o *Orchestrator) Unregister(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if j, exists := o.jobs[name]; exists {
		close(j.quit)
		delete(o.jobs, name)
		logger.WithField("collector", name).Info("Unregistered collector job")
	}
}

// TriggerNow enqueues an immediate one-shot run. Returns false for unknown
// collectors or when a manual run is already pending.
func (o *Orchestrator) TriggerNow(name string) bool {
	o.mu.Lock()
	j, exists := o.jobs[name]
	o.mu.Unlock()

	if !exists {
		return false
	}

	select {
	case j.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Status reports one job, or an error for unknown names.
func (o *Orchestrator) Status(name string) (JobStatus, error) {
	o.mu.Lock()
	j, exists := o.jobs[name]
	o.mu.Unlock()

	if !exists {
		return JobStatus{}, fmt.Errorf("unknown collector %q", name)
	}
	return j.status(), nil
}

// StatusAll reports every registered job.
func (o *Orchestrator) StatusAll() []JobStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]JobStatus, 0, len(o.jobs))
	for _, j := range o.jobs {
		out = append(out, j.status())
	}
	return out
}

func (j *job) status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	return JobStatus{
		Name:      j.name,
		Schedule:  j.schedule.String(),
		Running:   atomic.LoadInt32(j.running) == 1,
		LastRunAt: j.lastRunAt,
		NextRunAt: j.nextRunAt,
		LastError: j.lastError,
		Skipped:   atomic.LoadInt64(&j.skipped),
	}
}

// Health grades each registered collector by success rate. A collector
// that never ran is failing; overall health is the worst state present.
func (o *Orchestrator) Health() HealthReport {
	o.mu.Lock()
	names := make([]string, 0, len(o.jobs))
	for name := range o.jobs {
		names = append(names, name)
	}
	o.mu.Unlock()

	report := HealthReport{
		Overall:     HealthHealthy,
		ByCollector: make(map[string]CollectorHealth, len(names)),
	}

	rank := map[string]int{HealthHealthy: 0, HealthDegraded: 1, HealthFailing: 2}
	for _, name := range names {
		stats := o.tracker.Snapshot(name)
		rate := stats.SuccessRate()

		state := HealthFailing
		switch {
		case stats.TotalRuns == 0:
			state = HealthFailing
		case rate >= healthyMinRate:
			state = HealthHealthy
		case rate >= degradedMinRate:
			state = HealthDegraded
		}

		report.ByCollector[name] = CollectorHealth{
			State:       state,
			SuccessRate: rate,
			TotalRuns:   stats.TotalRuns,
		}
		if rank[state] > rank[report.Overall] {
			report.Overall = state
		}
	}
	return report
}

// Start launches every registered job loop. Idempotent.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return
	}
	o.started = true

	for _, j := range o.jobs {
		o.wg.Add(1)
		go o.runLoop(j)
	}
	logger.WithField("jobs", len(o.jobs)).Info("Scheduler started")
}

// Stop halts all loops and waits up to grace for in-flight runs to drain.
// Stragglers are logged and abandoned.
func (o *Orchestrator) Stop(grace time.Duration) {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	close(o.stop)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Scheduler stopped cleanly")
	case <-time.After(grace):
		o.mu.Lock()
		var stragglers []string
		for name, j := range o.jobs {
			if atomic.LoadInt32(j.running) == 1 {
				stragglers = append(stragglers, name)
			}
		}
		o.mu.Unlock()
		logger.WithField("collectors", stragglers).Warn("Scheduler stop grace elapsed with runs in flight")
	}
}

func (o *Orchestrator) runLoop(j *job) {
	defer o.wg.Done()

	for {
		now := time.Now().UTC()
		next := j.schedule.Next(now)
		j.mu.Lock()
		j.nextRunAt = next
		j.mu.Unlock()

		timer := time.NewTimer(next.Sub(now))

		select {
		case <-timer.C:
			o.execute(j, false)
		case <-j.trigger:
			timer.Stop()
			o.execute(j, true)
		case <-j.quit:
			timer.Stop()
			return
		case <-o.stop:
			timer.Stop()
			return
		}
	}
}

// execute runs one firing. At most one run per collector is in flight;
// concurrent firings are counted as skipped, never queued.
func (o *Orchestrator) execute(j *job, triggered bool) {
	if !atomic.CompareAndSwapInt32(j.running, 0, 1) {
		atomic.AddInt64(&j.skipped, 1)
		logger.WithField("collector", j.name).Warn("Skipping firing, previous run still in flight")
		return
	}
	defer atomic.StoreInt32(j.running, 0)

	ctx := context.Background()

	c, err := o.collectors.FindByName(ctx, j.name)
	if err != nil {
		o.finish(j, fmt.Errorf("load collector: %w", err))
		return
	}
	if c == nil {
		o.finish(j, fmt.Errorf("collector row missing"))
		return
	}
	if !c.IsActive {
		logger.WithField("collector", j.name).Debug("Collector inactive, skipping run")
		o.finish(j, nil)
		return
	}

	o.finish(j, o.runner.Run(ctx, c, triggered))
}

func (o *Orchestrator) finish(j *job, runErr error) {
	now := time.Now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastRunAt = &now
	if runErr != nil {
		j.lastError = runErr.Error()
	} else {
		j.lastError = ""
	}
}

// RegisterActive loads every active collector row and registers it. Used
// at startup and after reconfiguration.
func (o *Orchestrator) RegisterActive(ctx context.Context) error {
	rows, err := o.collectors.ListActive(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for i := range rows {
		if err := o.Register(rows[i].Name, rows[i].Schedule); err != nil {
			logger.WithFields(map[string]interface{}{
				"collector": rows[i].Name,
				"schedule":  rows[i].Schedule,
			}).WithError(err).Error("Failed to register collector")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
