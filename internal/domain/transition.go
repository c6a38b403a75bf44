package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransitionCause 状态跃迁的触发原因
type TransitionCause string

const (
	CauseSnapshot        TransitionCause = "snapshot"         // 快照中出现/重现
	CauseDebounceExpired TransitionCause = "debounce_expired" // 消失超过防抖窗口
	CausePostOpRecheck   TransitionCause = "postop_recheck"   // 术后字段补录复查
)

// transitionNamespace 确定性 transition_id 的 UUID 命名空间
var transitionNamespace = uuid.MustParse("7b1d3c9e-52a4-4f7e-9c1b-8e4a6d2f0c35")

// LifecycleTransition 一次状态跃迁的不可变记录（Event Log 的唯一内容）
type LifecycleTransition struct {
	TransitionID string          `json:"transition_id"`
	CaseID       string          `json:"case_id"`
	FromStatus   CaseStatus      `json:"from_status"`
	ToStatus     CaseStatus      `json:"to_status"`
	At           time.Time       `json:"at"`
	Cause        TransitionCause `json:"cause"`
	// CauseSeq 因果序号：触发本次跃迁的快照序号
	// （防抖超时/复查取消失起始快照的序号），用于重投递去重
	CauseSeq int64 `json:"cause_seq"`
}

// NewTransitionID 生成确定性的跃迁标识
//
// 由 caseID + 目标状态 + 因果序号派生（UUIDv5），同一跃迁无论经由
// 哪条路径（定时器到期 / 复查 / 重放）被重建，ID 都相同，
// 重复投递可以被 Event Log 识别为 no-op
func NewTransitionID(caseID string, toStatus CaseStatus, causeSeq int64) string {
	name := fmt.Sprintf("%s|%s|%d", caseID, toStatus, causeSeq)
	return uuid.NewSHA1(transitionNamespace, []byte(name)).String()
}

// NewTransition 构建跃迁记录
func NewTransition(caseID string, from, to CaseStatus, at time.Time, cause TransitionCause, causeSeq int64) LifecycleTransition {
	return LifecycleTransition{
		TransitionID: NewTransitionID(caseID, to, causeSeq),
		CaseID:       caseID,
		FromStatus:   from,
		ToStatus:     to,
		At:           at,
		Cause:        cause,
		CauseSeq:     causeSeq,
	}
}
