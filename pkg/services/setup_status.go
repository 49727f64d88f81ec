package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

// SetupStatusService derives onboarding progress from stored milestones and live facts.
type SetupStatusService interface {
	// GetStatus computes the current view without writing anything.
	GetStatus(ctx context.Context, orgID uuid.UUID) (*models.SetupStatus, error)

	// MarkStepComplete sets a milestone flag and recomputes. When every required
	// milestone is done, setup_completed_at is set to now.
	MarkStepComplete(ctx context.Context, orgID uuid.UUID, step models.SetupStep) (*models.SetupStatus, error)

	// Reset deletes the stored milestones. A missing row is not an error.
	Reset(ctx context.Context, orgID uuid.UUID) error
}

type setupStatusService struct {
	registry        providers.Registry
	setupRepo       repositories.SetupStatusRepository
	factsRepo       repositories.SetupFactsRepository
	integrationRepo repositories.IntegrationRepository
	telemetry       telemetry.Telemetry
	logger          *zap.Logger
	now             func() time.Time
}

// NewSetupStatusService creates a new setup status service.
func NewSetupStatusService(
	registry providers.Registry,
	setupRepo repositories.SetupStatusRepository,
	factsRepo repositories.SetupFactsRepository,
	integrationRepo repositories.IntegrationRepository,
	tl telemetry.Telemetry,
	logger *zap.Logger,
) SetupStatusService {
	return newSetupStatusService(registry, setupRepo, factsRepo, integrationRepo, tl, logger, time.Now)
}

func newSetupStatusService(
	registry providers.Registry,
	setupRepo repositories.SetupStatusRepository,
	factsRepo repositories.SetupFactsRepository,
	integrationRepo repositories.IntegrationRepository,
	tl telemetry.Telemetry,
	logger *zap.Logger,
	now func() time.Time,
) *setupStatusService {
	return &setupStatusService{
		registry:        registry,
		setupRepo:       setupRepo,
		factsRepo:       factsRepo,
		integrationRepo: integrationRepo,
		telemetry:       tl,
		logger:          logger.Named("setup_status"),
		now:             now,
	}
}

var (
	_ SetupStatusService   = (*setupStatusService)(nil)
	_ SetupMilestoneMarker = (*setupStatusService)(nil)
)

func (s *setupStatusService) GetStatus(ctx context.Context, orgID uuid.UUID) (*models.SetupStatus, error) {
	var record *models.SetupStatusRecord
	var facts *models.SetupFacts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		record, err = s.setupRepo.Get(gctx, orgID)
		return err
	})
	g.Go(func() error {
		var err error
		facts, err = s.loadFacts(gctx, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return computeSetupStatus(orgID, record, facts), nil
}

func (s *setupStatusService) MarkStepComplete(ctx context.Context, orgID uuid.UUID, step models.SetupStep) (*models.SetupStatus, error) {
	if !step.IsValid() {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownSetupStep, step)
	}

	previous, err := s.setupRepo.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	wasComplete := previous != nil && previous.SetupCompletedAt != nil

	now := s.now()
	record, err := s.setupRepo.MarkStep(ctx, orgID, step, now)
	if err != nil {
		return nil, err
	}
	facts, err := s.loadFacts(ctx, orgID)
	if err != nil {
		return nil, err
	}

	status := computeSetupStatus(orgID, record, facts)
	if !status.IsComplete {
		return status, nil
	}

	if err := s.setupRepo.SetCompletedAt(ctx, orgID, now); err != nil {
		return nil, err
	}
	status.SetupCompletedAt = &now

	if !wasComplete {
		s.logger.Info("Organization setup completed", zap.String("org_id", orgID.String()))
		telemetry.SendBestEffort(ctx, s.telemetry, s.logger, telemetry.NewEvent(orgID, telemetry.EventSetupCompleted, map[string]any{
			"completed_steps": len(status.CompletedSteps),
		}))
	}
	return status, nil
}

func (s *setupStatusService) Reset(ctx context.Context, orgID uuid.UUID) error {
	if err := s.setupRepo.Delete(ctx, orgID); err != nil {
		return err
	}
	s.logger.Info("Setup status reset", zap.String("org_id", orgID.String()))
	return nil
}

// loadFacts reads every live signal concurrently.
func (s *setupStatusService) loadFacts(ctx context.Context, orgID uuid.UUID) (*models.SetupFacts, error) {
	facts := &models.SetupFacts{}
	calendarIDs := providers.IDsByCategory(s.registry, models.CategoryCalendar)
	sourceControlIDs := providers.IDsByCategory(s.registry, models.CategorySourceControl)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		facts.HasAITierConfig, err = s.factsRepo.HasAITierConfig(gctx, orgID)
		return err
	})
	g.Go(func() (err error) {
		facts.HasMeetingProvider, err = s.integrationRepo.HasConfiguredProvider(gctx, orgID, calendarIDs)
		return err
	})
	g.Go(func() (err error) {
		facts.HasSourceControlProvider, err = s.integrationRepo.HasConfiguredProvider(gctx, orgID, sourceControlIDs)
		return err
	})
	g.Go(func() (err error) {
		facts.DomainCount, err = s.factsRepo.CountDomains(gctx, orgID)
		return err
	})
	g.Go(func() (err error) {
		facts.CircleCount, err = s.factsRepo.CountCircles(gctx, orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load setup facts: %w", err)
	}
	return facts, nil
}

func factSatisfies(step models.SetupStep, facts *models.SetupFacts) bool {
	switch step {
	case models.SetupStepAITier:
		return facts.HasAITierConfig
	case models.SetupStepMeetingProvider:
		return facts.HasMeetingProvider
	case models.SetupStepSourceControl:
		return facts.HasSourceControlProvider
	case models.SetupStepDomain:
		return facts.DomainCount > 0
	case models.SetupStepCircle:
		return facts.CircleCount > 0
	}
	return false
}

// computeSetupStatus merges stored flags with live facts. A step is done if either says so.
// Only required steps count toward progress and completion.
func computeSetupStatus(orgID uuid.UUID, record *models.SetupStatusRecord, facts *models.SetupFacts) *models.SetupStatus {
	status := &models.SetupStatus{
		OrgID:          orgID,
		Steps:          make(map[models.SetupStep]bool, len(models.SetupSteps)),
		PendingSteps:   []string{},
		CompletedSteps: []string{},
		OptionalSteps:  []models.OptionalStepStatus{},
	}
	if record != nil {
		status.SetupStartedAt = record.SetupStartedAt
		status.SetupCompletedAt = record.SetupCompletedAt
	}

	required, done := 0, 0
	for _, def := range models.SetupSteps {
		completed := factSatisfies(def.Step, facts)
		if record != nil && record.Steps[def.Step] {
			completed = true
		}
		status.Steps[def.Step] = completed

		if !def.Required {
			status.OptionalSteps = append(status.OptionalSteps, models.OptionalStepStatus{
				Step:      def.Step,
				Label:     def.Label,
				Completed: completed,
			})
			continue
		}

		required++
		if completed {
			done++
			status.CompletedSteps = append(status.CompletedSteps, def.Label)
		} else {
			status.PendingSteps = append(status.PendingSteps, def.Label)
		}
	}

	status.IsComplete = done == required
	if required > 0 {
		status.Progress = done * 100 / required
	} else {
		status.Progress = 100
	}
	return status
}
