package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"surgibot-sync/internal/domain"
)

// MemoryCasesRepository 内存版病例Repository（单元测试与演示模式使用）
type MemoryCasesRepository struct {
	mu    sync.RWMutex
	cases map[string]*domain.Case

	// FailWrites 大于 0 时，后续 N 次状态/队列写入返回错误（测试存储故障路径）
	FailWrites int
}

// NewMemoryCasesRepository 创建内存版病例Repository
func NewMemoryCasesRepository() *MemoryCasesRepository {
	return &MemoryCasesRepository{cases: make(map[string]*domain.Case)}
}

var _ CasesRepository = (*MemoryCasesRepository)(nil)

type memWriteError struct{}

func (memWriteError) Error() string { return "simulated write failure" }

func (r *MemoryCasesRepository) consumeFailure() error {
	if r.FailWrites > 0 {
		r.FailWrites--
		return memWriteError{}
	}
	return nil
}

func (r *MemoryCasesRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[caseID]
	if !ok {
		return nil, ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryCasesRepository) ReadPostOpFields(ctx context.Context, caseID string) (domain.PostOpFields, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cases[caseID]
	if !ok {
		return domain.PostOpFields{}, ErrCaseNotFound
	}
	return c.PostOp, nil
}

func (r *MemoryCasesRepository) WriteStatus(ctx context.Context, caseID string, status domain.CaseStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return err
	}
	c, ok := r.cases[caseID]
	if !ok {
		return ErrCaseNotFound
	}
	if c.Status.Terminal() {
		return ErrCaseCompleted
	}
	c.Status = status
	return nil
}

func (r *MemoryCasesRepository) WriteQueueAssignment(ctx context.Context, caseID string, slot int, overflow bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.consumeFailure(); err != nil {
		return err
	}
	c, ok := r.cases[caseID]
	if !ok {
		return ErrCaseNotFound
	}
	c.QueueSlot = slot
	c.Overflow = overflow
	return nil
}

func (r *MemoryCasesRepository) ListActiveCases(ctx context.Context, orRoomID string, period domain.Period) ([]*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Case
	for _, c := range r.cases {
		if c.ORRoomID == orRoomID && c.Period == period && !c.Status.Terminal() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortCases(out)
	return out, nil
}

func (r *MemoryCasesRepository) ListByDate(ctx context.Context, day time.Time) ([]*domain.Case, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	y, m, d := day.Date()
	var out []*domain.Case
	for _, c := range r.cases {
		cy, cm, cd := c.ScheduledAt.Date()
		if cy == y && cm == m && cd == d {
			cp := *c
			out = append(out, &cp)
		}
	}
	sortCases(out)
	return out, nil
}

func (r *MemoryCasesRepository) UpsertCase(ctx context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	if existing, ok := r.cases[c.CaseID]; ok {
		// status / queue 由各自的唯一写入方维护，upsert 不覆盖
		cp.Status = existing.Status
		cp.QueueSlot = existing.QueueSlot
		cp.Overflow = existing.Overflow
	}
	r.cases[c.CaseID] = &cp
	return nil
}

func sortCases(cases []*domain.Case) {
	sort.Slice(cases, func(i, j int) bool {
		if cases[i].ScheduledAt.Equal(cases[j].ScheduledAt) {
			return cases[i].CaseID < cases[j].CaseID
		}
		return cases[i].ScheduledAt.Before(cases[j].ScheduledAt)
	})
}
