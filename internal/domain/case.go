package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// CaseStatus 病例生命周期状态
//
// 状态单调递进：completed 为终态，任何病例不会从 completed 回退
type CaseStatus string

const (
	StatusScheduled   CaseStatus = "scheduled"    // 已排程，Monitor 从未报告过
	StatusObserved    CaseStatus = "observed"     // 最近一次快照中在 Monitor 上
	StatusGracePeriod CaseStatus = "grace_period" // 曾在 Monitor 上，当前消失，防抖窗口内/等待术后数据
	StatusCompleted   CaseStatus = "completed"    // 终态：消失超过防抖窗口且术后起止时间已补录
)

// Terminal 是否为终态
func (s CaseStatus) Terminal() bool { return s == StatusCompleted }

// Period 时段（参照医院办公时间 08:30–16:30 划分）
type Period string

const (
	PeriodIn  Period = "in"  // 在时间（办公时间内）
	PeriodOff Period = "off" // 非时间（办公时间外）
)

// PeriodOf 根据排程时间计算时段
func PeriodOf(t time.Time) Period {
	minutes := t.Hour()*60 + t.Minute()
	if minutes >= 8*60+30 && minutes < 16*60+30 {
		return PeriodIn
	}
	return PeriodOff
}

// QueueMode 队列显示模式
type QueueMode string

const (
	QueueModeNumeric     QueueMode = "numeric"      // 数字位 1–9，超出按时间排序
	QueueModeTimeOrdered QueueMode = "time_ordered" // 纯时间排序
)

// Case 手术病例（Schedule Store 持有的持久记录）
//
// 关联实体只保留标识符引用（patient_id / or_room_id），按需通过
// Schedule Store 解析，内存模型不持有持久层对象图
type Case struct {
	CaseID       string     `json:"case_id"`
	HNHash       string     `json:"hn_hash"` // 病人 HN 的 SHA256，原始 HN 不进入本子系统
	PatientID    string     `json:"patient_id"`
	ORRoomID     string     `json:"or_room_id"` // 如 "OR1".."OR8"
	DepartmentID string     `json:"department_id"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	Period       Period     `json:"period"`
	QueueSlot    int        `json:"queue_slot"` // 数字模式 1–9；0 表示未分配/溢出
	Overflow     bool       `json:"overflow"`   // 数字模式下第 10 个及以后的并发病例
	Status       CaseStatus `json:"status"`
	CaseSize     string     `json:"case_size,omitempty"`
	Urgency      string     `json:"urgency,omitempty"`

	// 术后字段（由护理人员补录后才存在）
	PostOp PostOpFields `json:"post_op"`
}

// PostOpFields 术后补录字段
type PostOpFields struct {
	StartTime      *time.Time `json:"start_time,omitempty"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	SurgeonID      string     `json:"surgeon_id,omitempty"`
	AnesthetistID  string     `json:"anesthetist_id,omitempty"`
	ScrubNurseID   string     `json:"scrub_nurse_id,omitempty"`
}

// Complete 术后起止时间是否都已补录（"strike-through" 完成判定的必要条件）
func (p PostOpFields) Complete() bool {
	return p.StartTime != nil && p.EndTime != nil
}

// PresenceRecord 病例在 Monitor 上的出现记录
//
// 由 Presence Reconciler 独占持有，不落盘；进程重启后从实时流重建，
// 重启后 everSeen 一律从 false 开始（保守默认）
type PresenceRecord struct {
	EverSeen         bool       `json:"ever_seen"`
	CurrentlyPresent bool       `json:"currently_present"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
	LastAbsentSince  *time.Time `json:"last_absent_since,omitempty"`
}

// CaseView 对外发布的只读病例视图（UI / 分析侧消费，不暴露可变状态表）
type CaseView struct {
	CaseID      string         `json:"case_id"`
	ORRoomID    string         `json:"or_room_id"`
	Period      Period         `json:"period"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Status      CaseStatus     `json:"status"`
	Presence    PresenceRecord `json:"presence"`
	QueueSlot   int            `json:"queue_slot"`
	Overflow    bool           `json:"overflow"`
	PendingData bool           `json:"pending_data"` // 防抖窗口已过但术后字段缺失
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HashHN 计算 HN 的 SHA256（导出与日志只使用 hash，原始 HN 属于 PHI）
func HashHN(hn string) string {
	sum := sha256.Sum256([]byte(hn))
	return hex.EncodeToString(sum[:])
}
