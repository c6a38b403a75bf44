package domain

import "time"

// MonitorSnapshot Monitor 数据源的一次全量快照
//
// Sequence 单调递增，重复或过期的序号在入口处丢弃；
// 同一序号的重复投递（断线重放）必须是幂等的
type MonitorSnapshot struct {
	Sequence      int64     `json:"seq"`
	ObservedAt    time.Time `json:"observed_at"`
	ActiveCaseIDs []string  `json:"active_case_ids"`
}

// ActiveSet 返回快照中活跃病例的集合形式
func (s MonitorSnapshot) ActiveSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.ActiveCaseIDs))
	for _, id := range s.ActiveCaseIDs {
		set[id] = struct{}{}
	}
	return set
}
