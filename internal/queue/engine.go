// Package queue 计算病例的显示队列位
//
// 每个 (OR 房间, 时段) 独立计算，两种模式：
//   - numeric: 数字位 1–9，按排程时间升序分配给活跃病例，
//     第 10 个及以后的并发病例不占数字位（溢出，按时间排序显示）
//   - time_ordered: 纯排程时间升序的名次，无 1–9 上限
//
// 数字模式下已显示的队列位不会被随意重排：病例完成离开活跃集时
// 释放其队列位，空出的位只分配给新进入或此前溢出的病例。
package queue

import (
	"sort"
	"sync"

	"surgibot-sync/internal/domain"

	"go.uber.org/zap"
)

// MaxNumericSlot 数字模式的队列位上限
const MaxNumericSlot = 9

type groupKey struct {
	orRoom string
	period domain.Period
}

// Engine 队列分配引擎
//
// 持有各 (OR, 时段) 组的当前分配表；Recompute 在 Reconciler 发布
// 批次后被同步调用，不与状态机并发
type Engine struct {
	mu     sync.Mutex
	groups map[groupKey]map[string]domain.QueueAssignment // caseID -> 当前分配
	logger *zap.Logger
}

// NewEngine 创建队列分配引擎
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		groups: make(map[groupKey]map[string]domain.QueueAssignment),
		logger: logger,
	}
}

// Recompute 重算某 (OR, 时段) 组的队列位
//
// active 必须是当前活跃（非 completed）病例；内部按排程时间升序、
// case_id 升序稳定排序。返回与上次分配相比发生变化的分配项，
// 调用方负责把变化写回 Schedule Store。
func (e *Engine) Recompute(orRoom string, period domain.Period, mode domain.QueueMode, active []*domain.Case) []domain.QueueAssignment {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := groupKey{orRoom: orRoom, period: period}
	prev := e.groups[key]
	if prev == nil {
		prev = make(map[string]domain.QueueAssignment)
	}

	sorted := make([]*domain.Case, len(active))
	copy(sorted, active)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ScheduledAt.Equal(sorted[j].ScheduledAt) {
			return sorted[i].CaseID < sorted[j].CaseID
		}
		return sorted[i].ScheduledAt.Before(sorted[j].ScheduledAt)
	})

	var next map[string]domain.QueueAssignment
	if mode == domain.QueueModeTimeOrdered {
		next = e.assignTimeOrdered(key, sorted)
	} else {
		next = e.assignNumeric(key, prev, sorted)
	}
	e.groups[key] = next

	// 仅返回发生变化的分配（新进入、挪入空位、离开活跃集的释放不需要回写）
	var changed []domain.QueueAssignment
	for id, a := range next {
		if p, ok := prev[id]; !ok || p.Slot != a.Slot || p.Overflow != a.Overflow {
			changed = append(changed, a)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].CaseID < changed[j].CaseID })

	if len(changed) > 0 {
		e.logger.Debug("Queue assignments recomputed",
			zap.String("or_room", orRoom),
			zap.String("period", string(period)),
			zap.String("mode", string(mode)),
			zap.Int("active", len(sorted)),
			zap.Int("changed", len(changed)),
		)
	}
	return changed
}

// assignNumeric 数字模式：保留仍活跃病例的已有数字位，
// 空位按升序分配给未持位的病例（按排程时间顺序），位用尽则溢出
func (e *Engine) assignNumeric(key groupKey, prev map[string]domain.QueueAssignment, sorted []*domain.Case) map[string]domain.QueueAssignment {
	next := make(map[string]domain.QueueAssignment, len(sorted))
	used := make(map[int]bool, MaxNumericSlot)

	// 第一遍：仍活跃且已持数字位的病例保位
	// （time_ordered 切回 numeric 时名次可能超过上限，超限位不保留）
	for _, c := range sorted {
		if p, ok := prev[c.CaseID]; ok && p.Slot > 0 && p.Slot <= MaxNumericSlot {
			next[c.CaseID] = p
			used[p.Slot] = true
		}
	}

	// 第二遍：未持位的病例按排程顺序占用最小空位
	for _, c := range sorted {
		if _, ok := next[c.CaseID]; ok {
			continue
		}
		slot := 0
		for s := 1; s <= MaxNumericSlot; s++ {
			if !used[s] {
				slot = s
				break
			}
		}
		a := domain.QueueAssignment{
			CaseID:   c.CaseID,
			ORRoomID: key.orRoom,
			Period:   key.period,
		}
		if slot > 0 {
			a.Slot = slot
			used[slot] = true
		} else {
			a.Overflow = true
		}
		next[c.CaseID] = a
	}
	return next
}

// assignTimeOrdered 时间排序模式：名次即排序位置，无上限
func (e *Engine) assignTimeOrdered(key groupKey, sorted []*domain.Case) map[string]domain.QueueAssignment {
	next := make(map[string]domain.QueueAssignment, len(sorted))
	for i, c := range sorted {
		next[c.CaseID] = domain.QueueAssignment{
			CaseID:   c.CaseID,
			ORRoomID: key.orRoom,
			Period:   key.period,
			Slot:     i + 1,
		}
	}
	return next
}

// Assignments 返回某组当前分配的副本（测试与视图发布用）
func (e *Engine) Assignments(orRoom string, period domain.Period) map[string]domain.QueueAssignment {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]domain.QueueAssignment)
	for id, a := range e.groups[groupKey{orRoom: orRoom, period: period}] {
		out[id] = a
	}
	return out
}
