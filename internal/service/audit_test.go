package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	"github.com/ocs-portal/portal-auth/internal/testutil"
)

func newTestAuditService(t *testing.T, repo *recordingAuditRepo, cfg config.AuditConfig) *AuditService {
	t.Helper()
	svc, err := NewAuditService(AuditServiceOptions{Repo: repo, Config: cfg})
	require.NoError(t, err)
	return svc
}

func TestNewAuditService_RequiresRepo(t *testing.T) {
	_, err := NewAuditService(AuditServiceOptions{})
	require.Error(t, err)
}

func TestAuditService_Record(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := newTestAuditService(t, repo, config.AuditConfig{Enabled: true})

	svc.Record(context.Background(), model.CreateAuditEntryRequest{UserID: "u1", Action: model.AuditActionLogin})
	assert.Equal(t, []model.AuditAction{model.AuditActionLogin}, repo.actions())
}

func TestAuditService_RecordSwallowsErrors(t *testing.T) {
	repo := &recordingAuditRepo{createErr: errors.New("db down")}
	svc := newTestAuditService(t, repo, config.AuditConfig{Enabled: true})

	assert.NotPanics(t, func() {
		svc.Record(context.Background(), model.CreateAuditEntryRequest{Action: model.AuditActionLogout})
	})
}

func TestAuditService_DisabledAndNil(t *testing.T) {
	repo := &recordingAuditRepo{}
	svc := newTestAuditService(t, repo, config.AuditConfig{Enabled: false})
	svc.Record(context.Background(), model.CreateAuditEntryRequest{Action: model.AuditActionLogin})
	assert.Empty(t, repo.actions())

	var nilSvc *AuditService
	assert.False(t, nilSvc.Enabled())
	nilSvc.Record(context.Background(), model.CreateAuditEntryRequest{Action: model.AuditActionLogin})
	entries, err := nilSvc.List(context.Background(), model.AuditListOptions{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	n, err := nilSvc.Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuditService_PruneBatches(t *testing.T) {
	repo := &recordingAuditRepo{deleteCounts: []int64{100, 100, 40}}
	cfg := config.AuditConfig{Enabled: true, Retention: 90 * 24 * time.Hour, BatchSize: 100}
	svc := newTestAuditService(t, repo, cfg)
	now := testutil.TestTime()

	n, err := svc.Prune(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(240), n)
	assert.Equal(t, 3, repo.deleteCalls, "a short batch ends the loop")
	assert.Equal(t, now.Add(-cfg.Retention), repo.lastCutoff)
}

func TestAuditService_PruneError(t *testing.T) {
	repo := &recordingAuditRepo{deleteErr: errors.New("lock timeout")}
	svc := newTestAuditService(t, repo, config.AuditConfig{Enabled: true, Retention: time.Hour, BatchSize: 10})

	_, err := svc.Prune(context.Background(), time.Now())
	require.Error(t, err)
}
