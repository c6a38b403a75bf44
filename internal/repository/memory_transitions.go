package repository

import (
	"context"
	"sort"
	"sync"

	"surgibot-sync/internal/domain"
)

// MemoryTransitionsRepository 内存版Event Log（单元测试使用）
type MemoryTransitionsRepository struct {
	mu      sync.RWMutex
	byID    map[string]struct{}
	ordered []domain.LifecycleTransition

	// FailAppends 大于 0 时，后续 N 次追加返回错误
	FailAppends int
}

// NewMemoryTransitionsRepository 创建内存版Event Log
func NewMemoryTransitionsRepository() *MemoryTransitionsRepository {
	return &MemoryTransitionsRepository{byID: make(map[string]struct{})}
}

var _ TransitionsRepository = (*MemoryTransitionsRepository)(nil)

func (r *MemoryTransitionsRepository) Append(ctx context.Context, t domain.LifecycleTransition) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAppends > 0 {
		r.FailAppends--
		return false, memWriteError{}
	}
	if _, ok := r.byID[t.TransitionID]; ok {
		return false, nil
	}
	r.byID[t.TransitionID] = struct{}{}
	r.ordered = append(r.ordered, t)
	sort.SliceStable(r.ordered, func(i, j int) bool {
		if r.ordered[i].At.Equal(r.ordered[j].At) {
			return r.ordered[i].TransitionID < r.ordered[j].TransitionID
		}
		return r.ordered[i].At.Before(r.ordered[j].At)
	})
	return true, nil
}

func (r *MemoryTransitionsRepository) ListAfter(ctx context.Context, cursor TransitionCursor, filter TransitionFilter, limit int) ([]domain.LifecycleTransition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.LifecycleTransition
	for _, t := range r.ordered {
		if t.At.Before(cursor.At) {
			continue
		}
		if t.At.Equal(cursor.At) && t.TransitionID <= cursor.ID {
			continue
		}
		if !matchFilter(t, filter) {
			continue
		}
		out = append(out, t)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryTransitionsRepository) Count(ctx context.Context, filter TransitionFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, t := range r.ordered {
		if matchFilter(t, filter) {
			count++
		}
	}
	return count, nil
}

// All 返回全部记录的副本（测试断言用）
func (r *MemoryTransitionsRepository) All() []domain.LifecycleTransition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.LifecycleTransition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func matchFilter(t domain.LifecycleTransition, f TransitionFilter) bool {
	if f.CaseID != "" && t.CaseID != f.CaseID {
		return false
	}
	if f.StartTime != nil && t.At.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && !t.At.Before(*f.EndTime) {
		return false
	}
	return true
}
