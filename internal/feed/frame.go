package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"surgibot-sync/internal/domain"
)

// rawFrame Monitor 快照帧的线上格式
//
// active_case_ids 用指针区分"字段缺失"和"合法的空集合"：
// 解析不了的帧绝不能被当成"没有病例在台上"
type rawFrame struct {
	Sequence      int64     `json:"seq"`
	ObservedAt    time.Time `json:"observed_at"`
	ActiveCaseIDs *[]string `json:"active_case_ids"`
}

// ParseFrame 解析并校验一帧快照
//
// 非法帧返回错误由调用方丢弃（只记日志），原有 presence 状态不受影响
func ParseFrame(payload []byte) (domain.MonitorSnapshot, error) {
	var raw rawFrame
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.MonitorSnapshot{}, fmt.Errorf("malformed frame: %w", err)
	}
	if raw.Sequence <= 0 {
		return domain.MonitorSnapshot{}, fmt.Errorf("malformed frame: missing or non-positive seq")
	}
	if raw.ObservedAt.IsZero() {
		return domain.MonitorSnapshot{}, fmt.Errorf("malformed frame: missing observed_at")
	}
	if raw.ActiveCaseIDs == nil {
		return domain.MonitorSnapshot{}, fmt.Errorf("malformed frame: missing active_case_ids")
	}

	ids := make([]string, 0, len(*raw.ActiveCaseIDs))
	for _, id := range *raw.ActiveCaseIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	return domain.MonitorSnapshot{
		Sequence:      raw.Sequence,
		ObservedAt:    raw.ObservedAt,
		ActiveCaseIDs: ids,
	}, nil
}

// SequenceGate 序号门：只放行单调递增的快照
//
// MQTT 推送和 HTTP 轮询兜底共享同一个门，重复/过期的序号在入口丢弃
type SequenceGate struct {
	mu      sync.Mutex
	lastSeq int64
}

// NewSequenceGate 创建序号门
func NewSequenceGate() *SequenceGate { return &SequenceGate{} }

// Admit 序号比已见过的更新时放行并推进水位
func (g *SequenceGate) Admit(seq int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq <= g.lastSeq {
		return false
	}
	g.lastSeq = seq
	return true
}

// LastSeq 当前水位（诊断用）
func (g *SequenceGate) LastSeq() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSeq
}
