package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/data"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	apperrors "github.com/ocs-portal/portal-auth/internal/errors"
	"github.com/ocs-portal/portal-auth/internal/mocks"
)

func staffRule() domainauth.PermissionRule {
	return domainauth.PermissionRule{
		ID:       "rule-1",
		Name:     "All_Staff",
		Match:    domainauth.RuleMatch{Kind: domainauth.MatchGroup, GroupName: "All_Staff"},
		Priority: 100,
		Grants: domainauth.PermissionBundle{
			Role:    domainauth.RoleStaff,
			Tickets: domainauth.AccessWrite,
		},
	}
}

func newRuleFixture(t *testing.T) (*RuleService, *mocks.MockRuleRepository, *recordingAuditRepo) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRuleRepository(ctrl)
	auditRepo := &recordingAuditRepo{}
	audit, err := NewAuditService(AuditServiceOptions{Repo: auditRepo, Config: config.AuditConfig{Enabled: true}})
	require.NoError(t, err)
	svc, err := NewRuleService(RuleServiceOptions{Repo: repo, Audit: audit})
	require.NoError(t, err)
	return svc, repo, auditRepo
}

func TestNewRuleService_RequiresRepo(t *testing.T) {
	_, err := NewRuleService(RuleServiceOptions{})
	require.Error(t, err)
}

func TestRuleService_CreateAudits(t *testing.T) {
	svc, repo, auditRepo := newRuleFixture(t)
	want := staffRule()

	repo.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r domainauth.PermissionRule) (domainauth.PermissionRule, error) {
			assert.Equal(t, "All_Staff", r.Name)
			r.ID = want.ID
			return r, nil
		})

	got, err := svc.Create(context.Background(), model.CreatePermissionRuleRequest{
		Name:     want.Name,
		Match:    want.Match,
		Priority: want.Priority,
		Grants:   want.Grants,
	}, Actor{UserID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, "rule-1", got.ID)

	last := auditRepo.last()
	assert.Equal(t, model.AuditActionRuleCreated, last.Action)
	assert.Equal(t, "admin-1", last.UserID)
	assert.Equal(t, "rule-1", last.Details["rule_id"])
}

func TestRuleService_CreateInvalid(t *testing.T) {
	svc, _, auditRepo := newRuleFixture(t)

	_, err := svc.Create(context.Background(), model.CreatePermissionRuleRequest{
		Name:  "broken",
		Match: domainauth.RuleMatch{Kind: domainauth.MatchGroup},
	}, Actor{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, auditRepo.actions())
}

func TestRuleService_CreateDuplicateName(t *testing.T) {
	svc, repo, _ := newRuleFixture(t)
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(domainauth.PermissionRule{}, data.ErrRuleNameExists)

	r := staffRule()
	_, err := svc.Create(context.Background(), model.CreatePermissionRuleRequest{
		Name: r.Name, Match: r.Match, Priority: r.Priority, Grants: r.Grants,
	}, Actor{})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestRuleService_Update(t *testing.T) {
	svc, repo, auditRepo := newRuleFixture(t)
	current := staffRule()
	priority := 5

	repo.EXPECT().GetByID(gomock.Any(), "rule-1").Return(current, nil)
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r domainauth.PermissionRule) (domainauth.PermissionRule, error) {
			return r, nil
		})

	got, err := svc.Update(context.Background(), "rule-1", model.UpdatePermissionRuleRequest{Priority: &priority}, Actor{UserID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, 5, got.Priority)
	assert.Equal(t, current.Name, got.Name)
	assert.Equal(t, model.AuditActionRuleUpdated, auditRepo.last().Action)
}

func TestRuleService_UpdateNotFound(t *testing.T) {
	svc, repo, _ := newRuleFixture(t)
	repo.EXPECT().GetByID(gomock.Any(), "missing").Return(domainauth.PermissionRule{}, data.ErrRuleNotFound)

	name := "x"
	_, err := svc.Update(context.Background(), "missing", model.UpdatePermissionRuleRequest{Name: &name}, Actor{})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRuleService_UpdateWithoutFields(t *testing.T) {
	svc, repo, _ := newRuleFixture(t)
	repo.EXPECT().GetByID(gomock.Any(), "rule-1").Return(staffRule(), nil)

	_, err := svc.Update(context.Background(), "rule-1", model.UpdatePermissionRuleRequest{}, Actor{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestRuleService_SeedDefaults(t *testing.T) {
	svc, repo, _ := newRuleFixture(t)
	repo.EXPECT().SeedIfEmpty(gomock.Any(), gomock.Len(len(domainauth.DefaultRules()))).Return(5, nil)

	n, err := svc.SeedDefaults(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestRuleService_Explain(t *testing.T) {
	svc, repo, _ := newRuleFixture(t)
	repo.EXPECT().List(gomock.Any()).Return(domainauth.DefaultRules(), nil)

	res, err := svc.Explain(context.Background(), domainauth.Subject{
		Groups:     []domainauth.Group{{Name: "All_Staff"}},
		Attributes: map[string]any{"extensionAttribute10": "Director of Schools"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleSuperAdmin, res.Bundle.Role)
	assert.Equal(t, domainauth.AccessAdmin, res.Bundle.Tickets)
	assert.Equal(t, []string{"Director of Schools", "All_Staff"}, res.MatchedRules)
}

func TestRuleService_ListError(t *testing.T) {
	svc, repo, _ := newRuleFixture(t)
	repo.EXPECT().List(gomock.Any()).Return(nil, errors.New("boom"))

	_, err := svc.List(context.Background())
	require.Error(t, err)
}
