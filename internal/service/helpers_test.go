package service

import (
	"context"
	"sync"
	"time"

	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

// recordingAuditRepo keeps audit entries in memory.
type recordingAuditRepo struct {
	mu        sync.Mutex
	entries   []model.CreateAuditEntryRequest
	createErr error

	deleteCalls  int
	deleteCounts []int64
	deleteErr    error
	lastCutoff   time.Time
}

func (r *recordingAuditRepo) Create(_ context.Context, req *model.CreateAuditEntryRequest) (*model.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	r.entries = append(r.entries, *req)
	return &model.AuditEntry{UserID: req.UserID, Action: req.Action, Details: req.Details}, nil
}

func (r *recordingAuditRepo) List(_ context.Context, opts model.AuditListOptions) ([]*model.AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.AuditEntry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if opts.Action != nil && e.Action != *opts.Action {
			continue
		}
		out = append(out, &model.AuditEntry{UserID: e.UserID, Action: e.Action, Details: e.Details})
	}
	return out, nil
}

func (r *recordingAuditRepo) DeleteOlderThan(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteCalls++
	r.lastCutoff = cutoff
	if r.deleteErr != nil {
		return 0, r.deleteErr
	}
	if len(r.deleteCounts) == 0 {
		return 0, nil
	}
	n := r.deleteCounts[0]
	r.deleteCounts = r.deleteCounts[1:]
	return n, nil
}

func (r *recordingAuditRepo) actions() []model.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditAction, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

func (r *recordingAuditRepo) last() model.CreateAuditEntryRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return model.CreateAuditEntryRequest{}
	}
	return r.entries[len(r.entries)-1]
}
