package models

import (
	"time"

	"github.com/google/uuid"
)

// SetupStep identifies an onboarding milestone.
type SetupStep string

const (
	SetupStepAITier          SetupStep = "ai_tier"
	SetupStepMeetingProvider SetupStep = "meeting_provider"
	SetupStepSourceControl   SetupStep = "source_control"
	SetupStepDomain          SetupStep = "domain"
	SetupStepCircle          SetupStep = "circle"
	SetupStepTeam            SetupStep = "team"
)

// SetupStepDefinition describes a milestone in catalog order.
type SetupStepDefinition struct {
	Step     SetupStep
	Label    string
	Required bool
}

// SetupSteps is the ordered milestone catalog.
var SetupSteps = []SetupStepDefinition{
	{Step: SetupStepAITier, Label: "Select AI Tier", Required: true},
	{Step: SetupStepMeetingProvider, Label: "Connect Meeting Provider", Required: true},
	{Step: SetupStepSourceControl, Label: "Connect Source Control"},
	{Step: SetupStepDomain, Label: "Create First Domain"},
	{Step: SetupStepCircle, Label: "Create First Circle"},
	{Step: SetupStepTeam, Label: "Invite Team Members"},
}

// IsValid reports whether s is in the catalog.
func (s SetupStep) IsValid() bool {
	for _, d := range SetupSteps {
		if d.Step == s {
			return true
		}
	}
	return false
}

// SetupStatusRecord is the stored row; flags only, no derived fields.
type SetupStatusRecord struct {
	OrgID            uuid.UUID
	Steps            map[SetupStep]bool
	SetupStartedAt   *time.Time
	SetupCompletedAt *time.Time
	UpdatedAt        time.Time
}

// SetupFacts are live signals read from collaborators on every status computation.
type SetupFacts struct {
	HasAITierConfig          bool
	HasMeetingProvider       bool
	HasSourceControlProvider bool
	DomainCount              int
	CircleCount              int
}

// OptionalStepStatus reports an optional milestone.
type OptionalStepStatus struct {
	Step      SetupStep `json:"step"`
	Label     string    `json:"label"`
	Completed bool      `json:"completed"`
}

// SetupStatus is the derived onboarding view.
type SetupStatus struct {
	OrgID            uuid.UUID            `json:"org_id"`
	Steps            map[SetupStep]bool   `json:"steps"`
	IsComplete       bool                 `json:"is_complete"`
	Progress         int                  `json:"progress"`
	PendingSteps     []string             `json:"pending_steps"`
	CompletedSteps   []string             `json:"completed_steps"`
	OptionalSteps    []OptionalStepStatus `json:"optional_steps"`
	SetupStartedAt   *time.Time           `json:"setup_started_at,omitempty"`
	SetupCompletedAt *time.Time           `json:"setup_completed_at,omitempty"`
}
