package algo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/scheduler"
)

// Scheduler fires deployment executions on their configured frequency.
// One execution per deployment may be in flight; a firing that lands while
// the previous one still runs is skipped, not queued.
type Scheduler struct {
	executor *Executor

	mu      sync.Mutex
	jobs    map[uint]*deploymentJob
	started bool

	stop chan struct{}
	wg   sync.WaitGroup
}

type deploymentJob struct {
	deploymentID uint
	schedule     scheduler.Schedule
	paused       int32
	running      int32
	quit         chan struct{}
}

func NewScheduler(executor *Executor) *Scheduler {
	return &Scheduler{
		executor: executor,
		jobs:     make(map[uint]*deploymentJob),
		stop:     make(chan struct{}),
	}
}

// Add registers (or replaces) the job for a deployment.
func (s *Scheduler) Add(deploymentID uint, frequency string) error {
	schedule, err := scheduler.ParseSchedule(frequency)
	if err != nil {
		return err
	}

	job := &deploymentJob{
		deploymentID: deploymentID,
		schedule:     schedule,
		quit:         make(chan struct{}),
	}

	s.mu.Lock()
	if old, ok := s.jobs[deploymentID]; ok {
		close(old.quit)
	}
	s.jobs[deploymentID] = job
	started := s.started
	s.mu.Unlock()

	if started {
		s.launch(job)
	}
	logger.WithFields(map[string]interface{}{
		"deployment": deploymentID,
		"frequency":  schedule.String(),
	}).Info("Deployment schedule registered")
	return nil
}

// Remove drops the deployment's job.
func (s *Scheduler) Remove(deploymentID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[deploymentID]; ok {
		close(job.quit)
		delete(s.jobs, deploymentID)
	}
}

// Pause keeps the job registered but skips its firings.
func (s *Scheduler) Pause(deploymentID uint) {
	s.setPaused(deploymentID, true)
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(deploymentID uint) {
	s.setPaused(deploymentID, false)
}

func (s *Scheduler) setPaused(deploymentID uint, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[deploymentID]; ok {
		val := int32(0)
		if paused {
			val = 1
		}
		atomic.StoreInt32(&job.paused, val)
	}
}

// Start launches loops for registered jobs. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := make([]*deploymentJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.launch(job)
	}
	logger.WithField("deployments", len(jobs)).Info("Algorithm scheduler started")
}

// Stop halts all loops and waits for in-flight executions up to grace.
func (s *Scheduler) Stop(grace time.Duration) {
	close(s.stop)

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logger.Info("Algorithm scheduler stopped")
	case <-time.After(grace):
		logger.Warn("Algorithm scheduler stopped with executions still in flight")
	}
}

func (s *Scheduler) launch(job *deploymentJob) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		for {
			next := job.schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				s.fire(job)
			case <-job.quit:
				timer.Stop()
				return
			case <-s.stop:
				timer.Stop()
				return
			}
		}
	}()
}

func (s *Scheduler) fire(job *deploymentJob) {
	if atomic.LoadInt32(&job.paused) == 1 {
		return
	}
	if !atomic.CompareAndSwapInt32(&job.running, 0, 1) {
		logger.WithField("deployment", job.deploymentID).Warn("Skipping firing, previous execution still running")
		return
	}
	defer atomic.StoreInt32(&job.running, 0)

	if _, err := s.executor.Execute(context.Background(), job.deploymentID, false); err != nil {
		logger.WithField("deployment", job.deploymentID).WithError(err).Error("Deployment execution failed")
	}
}
