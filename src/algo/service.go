package algo

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"ohmycoins/src/model"
	"ohmycoins/src/repository"
)

// Service manages deployments and their schedule registrations. The
// scheduler is optional so read-only callers can skip it.
type Service struct {
	algos     *repository.AlgorithmRepository
	executor  *Executor
	scheduler *Scheduler
}

func NewService(algos *repository.AlgorithmRepository, executor *Executor, scheduler *Scheduler) *Service {
	return &Service{algos: algos, executor: executor, scheduler: scheduler}
}

// DeployRequest activates an algorithm for a user on a schedule.
type DeployRequest struct {
	UserID             uint
	AlgorithmID        uint
	ExecutionFrequency string
	PositionLimit      decimal.Decimal
	DailyLossLimit     decimal.Decimal
}

// Deploy creates an inactive deployment. Activate starts the schedule.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) (*model.DeployedAlgorithm, error) {
	algorithm, err := s.algos.FindAlgorithm(ctx, req.AlgorithmID)
	if err != nil {
		return nil, err
	}
	if algorithm == nil {
		return nil, fmt.Errorf("algorithm %d not found", req.AlgorithmID)
	}
	if algorithm.Status == model.AlgorithmStatusArchived {
		return nil, fmt.Errorf("algorithm %d is archived", req.AlgorithmID)
	}

	// fail fast on a broken definition instead of at first firing
	if _, err := BuildModel(algorithm); err != nil {
		return nil, err
	}

	deployment := &model.DeployedAlgorithm{
		UserID:             req.UserID,
		AlgorithmID:        req.AlgorithmID,
		ExecutionFrequency: req.ExecutionFrequency,
		PositionLimit:      req.PositionLimit,
		DailyLossLimit:     req.DailyLossLimit,
		DailyResetAt:       time.Now().UTC().Truncate(24 * time.Hour),
	}
	if err := s.algos.CreateDeployment(ctx, deployment); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"deployment": deployment.ID,
		"algorithm":  req.AlgorithmID,
		"user":       req.UserID,
		"frequency":  req.ExecutionFrequency,
	}).Info("Algorithm deployed")
	return deployment, nil
}

// Activate flips the deployment on and registers its schedule job.
func (s *Service) Activate(ctx context.Context, deploymentID uint) error {
	deployment, err := s.algos.FindDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if deployment == nil {
		return fmt.Errorf("deployment %d not found", deploymentID)
	}

	if err := s.algos.SetDeploymentActive(ctx, deploymentID, true); err != nil {
		return err
	}
	if s.scheduler != nil {
		if err := s.scheduler.Add(deploymentID, deployment.ExecutionFrequency); err != nil {
			return err
		}
	}
	logger.WithField("deployment", deploymentID).Info("Deployment activated")
	return nil
}

// Deactivate stops the schedule and flips the deployment off.
func (s *Service) Deactivate(ctx context.Context, deploymentID uint) error {
	if s.scheduler != nil {
		s.scheduler.Remove(deploymentID)
	}
	if err := s.algos.SetDeploymentActive(ctx, deploymentID, false); err != nil {
		return err
	}
	logger.WithField("deployment", deploymentID).Info("Deployment deactivated")
	return nil
}

// ExecuteNow fires one cycle immediately, outside the schedule.
func (s *Service) ExecuteNow(ctx context.Context, deploymentID uint, dryRun bool) ([]Signal, error) {
	return s.executor.Execute(ctx, deploymentID, dryRun)
}

// RestoreActive registers schedule jobs for deployments that were active
// when the process last stopped.
func (s *Service) RestoreActive(ctx context.Context) error {
	if s.scheduler == nil {
		return nil
	}

	deployments, err := s.algos.ListActiveDeployments(ctx)
	if err != nil {
		return err
	}
	for i := range deployments {
		if err := s.scheduler.Add(deployments[i].ID, deployments[i].ExecutionFrequency); err != nil {
			logger.WithFields(map[string]interface{}{
				"deployment": deployments[i].ID,
				"frequency":  deployments[i].ExecutionFrequency,
			}).WithError(err).Error("Failed to restore deployment schedule")
		}
	}
	return nil
}
