package repository

import (
	"context"
	"time"

	"surgibot-sync/internal/domain"
)

// TransitionFilter 跃迁查询过滤器（分析侧按病例/日期范围消费）
type TransitionFilter struct {
	CaseID    string     // 空串表示不过滤
	StartTime *time.Time // 开始时间（occurred_at >=）
	EndTime   *time.Time // 结束时间（occurred_at <）
}

// TransitionCursor 惰性读取的游标（keyset 分页，可从任意位置重启）
type TransitionCursor struct {
	At time.Time
	ID string
}

// TransitionsRepository Event Log 仓库接口（append-only）
type TransitionsRepository interface {
	// Append 追加一条跃迁记录；transition_id 已存在时静默 no-op，
	// 返回值表示本次是否实际写入（false = 重复投递）
	Append(ctx context.Context, t domain.LifecycleTransition) (bool, error)

	// ListAfter 按时间序读取游标之后的一页记录
	ListAfter(ctx context.Context, cursor TransitionCursor, filter TransitionFilter, limit int) ([]domain.LifecycleTransition, error)

	// Count 统计记录数（测试与诊断用）
	Count(ctx context.Context, filter TransitionFilter) (int, error)
}
