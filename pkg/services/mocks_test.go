package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

type integrationKey struct {
	orgID      uuid.UUID
	providerID string
}

// mockIntegrationRepository is an in-memory IntegrationRepository with the same
// column-subset semantics as the SQL implementation.
type mockIntegrationRepository struct {
	mu      sync.Mutex
	records map[integrationKey]*models.IntegrationRecord

	getErr            error
	getCalls          int
	updateTokensCalls int
}

func newMockIntegrationRepository() *mockIntegrationRepository {
	return &mockIntegrationRepository{records: make(map[integrationKey]*models.IntegrationRecord)}
}

func (m *mockIntegrationRepository) put(rec *models.IntegrationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.records[integrationKey{rec.OrgID, rec.ProviderID}] = &copied
}

func (m *mockIntegrationRepository) row(orgID uuid.UUID, providerID string) *models.IntegrationRecord {
	rec, ok := m.records[integrationKey{orgID, providerID}]
	if !ok {
		rec = &models.IntegrationRecord{
			OrgID:      orgID,
			ProviderID: providerID,
			IsEnabled:  true,
			SyncStatus: models.SyncStatusPending,
		}
		m.records[integrationKey{orgID, providerID}] = rec
	}
	return rec
}

func (m *mockIntegrationRepository) Get(_ context.Context, orgID uuid.UUID, providerID string) (*models.IntegrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.records[integrationKey{orgID, providerID}]
	if !ok {
		return nil, nil
	}
	copied := *rec
	return &copied, nil
}

func (m *mockIntegrationRepository) ListByOrg(_ context.Context, orgID uuid.UUID) ([]*models.IntegrationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.IntegrationRecord, 0)
	for k, rec := range m.records {
		if k.orgID == orgID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

func (m *mockIntegrationRepository) SaveBYOK(_ context.Context, orgID uuid.UUID, providerID string, creds models.BYOKCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.row(orgID, providerID)
	rec.BYOKEnabled = true
	rec.BYOKClientID = creds.ClientID
	rec.BYOKClientSecret = creds.ClientSecret
	rec.BYOKRedirectURL = creds.RedirectURL
	return nil
}

func (m *mockIntegrationRepository) DisableBYOK(_ context.Context, orgID uuid.UUID, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[integrationKey{orgID, providerID}]
	if !ok {
		return nil
	}
	rec.BYOKEnabled = false
	rec.BYOKClientID = ""
	rec.BYOKClientSecret = ""
	rec.BYOKRedirectURL = ""
	return nil
}

func (m *mockIntegrationRepository) SaveConnection(_ context.Context, conn *models.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.row(conn.OrgID, conn.ProviderID)
	rec.AccessToken, rec.RefreshToken, rec.TokenExpiresAt = "", "", nil
	if conn.Tokens != nil {
		rec.AccessToken = conn.Tokens.AccessToken
		rec.RefreshToken = conn.Tokens.RefreshToken
		rec.TokenExpiresAt = conn.Tokens.ExpiresAt
	}
	rec.APIKey = conn.APIKey
	rec.Account = conn.Account
	rec.IsConfigured = true
	rec.IsEnabled = true
	rec.SyncStatus = models.SyncStatusSuccess
	completed := conn.CompletedAt
	rec.LastSyncAt = &completed
	rec.SetupCompletedAt = &completed
	rec.SetupCompletedBy = conn.CompletedBy
	return nil
}

func (m *mockIntegrationRepository) UpdateTokens(_ context.Context, orgID uuid.UUID, providerID string, tokens *models.TokenSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateTokensCalls++
	rec, ok := m.records[integrationKey{orgID, providerID}]
	if !ok {
		return apperrors.ErrNotFound
	}
	rec.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		rec.RefreshToken = tokens.RefreshToken
	}
	rec.TokenExpiresAt = tokens.ExpiresAt
	return nil
}

func (m *mockIntegrationRepository) MarkRefreshFailed(_ context.Context, orgID uuid.UUID, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[integrationKey{orgID, providerID}]; ok {
		rec.IsConfigured = false
		rec.SyncStatus = models.SyncStatusFailed
	}
	return nil
}

func (m *mockIntegrationRepository) UpdateSyncStatus(_ context.Context, orgID uuid.UUID, providerID string, status models.SyncStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[integrationKey{orgID, providerID}]
	if !ok {
		return false, nil
	}
	rec.SyncStatus = status
	if !at.IsZero() {
		rec.LastSyncAt = &at
	}
	return true, nil
}

func (m *mockIntegrationRepository) SetEnabled(_ context.Context, orgID uuid.UUID, providerID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[integrationKey{orgID, providerID}]
	if !ok {
		return apperrors.ErrNotFound
	}
	rec.IsEnabled = enabled
	return nil
}

func (m *mockIntegrationRepository) Delete(_ context.Context, orgID uuid.UUID, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, integrationKey{orgID, providerID})
	return nil
}

func (m *mockIntegrationRepository) HasConfiguredProvider(_ context.Context, orgID uuid.UUID, providerIDs []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range providerIDs {
		if rec, ok := m.records[integrationKey{orgID, id}]; ok && rec.IsConfigured {
			return true, nil
		}
	}
	return false, nil
}

var _ repositories.IntegrationRepository = (*mockIntegrationRepository)(nil)

// mockSetupStatusRepository stores one record per org in memory.
type mockSetupStatusRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]*models.SetupStatusRecord
}

func newMockSetupStatusRepository() *mockSetupStatusRepository {
	return &mockSetupStatusRepository{records: make(map[uuid.UUID]*models.SetupStatusRecord)}
}

func cloneSetupRecord(rec *models.SetupStatusRecord) *models.SetupStatusRecord {
	copied := *rec
	copied.Steps = make(map[models.SetupStep]bool, len(rec.Steps))
	for k, v := range rec.Steps {
		copied.Steps[k] = v
	}
	return &copied
}

func (m *mockSetupStatusRepository) Get(_ context.Context, orgID uuid.UUID) (*models.SetupStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[orgID]
	if !ok {
		return nil, nil
	}
	return cloneSetupRecord(rec), nil
}

func (m *mockSetupStatusRepository) MarkStep(_ context.Context, orgID uuid.UUID, step models.SetupStep, now time.Time) (*models.SetupStatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[orgID]
	if !ok {
		rec = &models.SetupStatusRecord{OrgID: orgID, Steps: map[models.SetupStep]bool{}}
		m.records[orgID] = rec
	}
	rec.Steps[step] = true
	if rec.SetupStartedAt == nil {
		started := now
		rec.SetupStartedAt = &started
	}
	rec.UpdatedAt = now
	return cloneSetupRecord(rec), nil
}

func (m *mockSetupStatusRepository) SetCompletedAt(_ context.Context, orgID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[orgID]; ok {
		rec.SetupCompletedAt = &at
	}
	return nil
}

func (m *mockSetupStatusRepository) Delete(_ context.Context, orgID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, orgID)
	return nil
}

var _ repositories.SetupStatusRepository = (*mockSetupStatusRepository)(nil)

type mockSetupFactsRepository struct {
	hasAITier   bool
	domainCount int
	circleCount int
	err         error
}

func (m *mockSetupFactsRepository) HasAITierConfig(context.Context, uuid.UUID) (bool, error) {
	return m.hasAITier, m.err
}

func (m *mockSetupFactsRepository) CountDomains(context.Context, uuid.UUID) (int, error) {
	return m.domainCount, m.err
}

func (m *mockSetupFactsRepository) CountCircles(context.Context, uuid.UUID) (int, error) {
	return m.circleCount, m.err
}

var _ repositories.SetupFactsRepository = (*mockSetupFactsRepository)(nil)

// recordingAuditor captures audit events.
type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (a *recordingAuditor) Record(_ context.Context, e audit.SecurityEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *recordingAuditor) types() []audit.SecurityEventType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.SecurityEventType, 0, len(a.events))
	for _, e := range a.events {
		out = append(out, e.EventType)
	}
	return out
}

// recordingTelemetry captures telemetry events.
type recordingTelemetry struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingTelemetry) Send(_ context.Context, e telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingTelemetry) Close() error { return nil }

func (r *recordingTelemetry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

// recordingSetupMarker captures milestone writes.
type recordingSetupMarker struct {
	mu    sync.Mutex
	steps []models.SetupStep
}

func (r *recordingSetupMarker) MarkStepComplete(_ context.Context, _ uuid.UUID, step models.SetupStep) (*models.SetupStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	return &models.SetupStatus{}, nil
}
