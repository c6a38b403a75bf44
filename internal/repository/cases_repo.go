package repository

import (
	"context"
	"errors"
	"time"

	"surgibot-sync/internal/domain"
)

var (
	// ErrCaseNotFound 病例不存在
	ErrCaseNotFound = errors.New("case not found")
	// ErrCaseCompleted 病例已是终态，拒绝任何状态写入
	ErrCaseCompleted = errors.New("case already completed")
)

// CasesRepository Schedule Store 病例仓库接口
//
// Reconciler 从这里读取术后字段、回写状态；Queue Assignment Engine
// 是队列位的唯一写入方
type CasesRepository interface {
	// GetCase 按标识查询病例
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)

	// ReadPostOpFields 读取术后补录字段（完成判定的必要输入）
	ReadPostOpFields(ctx context.Context, caseID string) (domain.PostOpFields, error)

	// WriteStatus 写入生命周期状态；completed 为终态，
	// 对已完成病例的写入返回 ErrCaseCompleted
	WriteStatus(ctx context.Context, caseID string, status domain.CaseStatus, at time.Time) error

	// WriteQueueAssignment 写入队列位（slot=0 表示无数字位/溢出）
	WriteQueueAssignment(ctx context.Context, caseID string, slot int, overflow bool) error

	// ListActiveCases 查询某 OR/时段下的活跃（非 completed）病例，
	// 按 scheduled_at 升序、case_id 升序稳定排序
	ListActiveCases(ctx context.Context, orRoomID string, period domain.Period) ([]*domain.Case, error)

	// ListByDate 查询某天的全部病例（Reconciler 启动装载 + 周期重载）
	ListByDate(ctx context.Context, day time.Time) ([]*domain.Case, error)

	// UpsertCase 新建或更新排程记录（排程录入路径使用）
	UpsertCase(ctx context.Context, c *domain.Case) error
}
