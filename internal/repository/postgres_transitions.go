package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"surgibot-sync/internal/domain"
)

// PostgresTransitionsRepository Event Log Repository实现
type PostgresTransitionsRepository struct {
	db *sql.DB
}

// NewPostgresTransitionsRepository 创建Event Log Repository
func NewPostgresTransitionsRepository(db *sql.DB) *PostgresTransitionsRepository {
	return &PostgresTransitionsRepository{db: db}
}

var _ TransitionsRepository = (*PostgresTransitionsRepository)(nil)

// Append 追加跃迁记录（transition_id 主键冲突时静默 no-op，保证幂等）
func (r *PostgresTransitionsRepository) Append(ctx context.Context, t domain.LifecycleTransition) (bool, error) {
	query := `INSERT INTO case_transitions (
			transition_id, case_id, from_status, to_status, occurred_at, cause, cause_seq
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (transition_id) DO NOTHING`

	result, err := r.db.ExecContext(ctx, query,
		t.TransitionID, t.CaseID, string(t.FromStatus), string(t.ToStatus),
		t.At, string(t.Cause), t.CauseSeq,
	)
	if err != nil {
		return false, fmt.Errorf("failed to append transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ListAfter 按 (occurred_at, transition_id) keyset 游标读取一页
func (r *PostgresTransitionsRepository) ListAfter(ctx context.Context, cursor TransitionCursor, filter TransitionFilter, limit int) ([]domain.LifecycleTransition, error) {
	var conds []string
	var args []interface{}

	conds = append(conds, fmt.Sprintf("(occurred_at, transition_id) > ($%d, $%d)", len(args)+1, len(args)+2))
	args = append(args, cursor.At, cursor.ID)

	if filter.CaseID != "" {
		conds = append(conds, fmt.Sprintf("case_id = $%d", len(args)+1))
		args = append(args, filter.CaseID)
	}
	if filter.StartTime != nil {
		conds = append(conds, fmt.Sprintf("occurred_at >= $%d", len(args)+1))
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conds = append(conds, fmt.Sprintf("occurred_at < $%d", len(args)+1))
		args = append(args, *filter.EndTime)
	}

	query := fmt.Sprintf(`SELECT transition_id, case_id, from_status, to_status, occurred_at, cause, cause_seq
		FROM case_transitions
		WHERE %s
		ORDER BY occurred_at ASC, transition_id ASC
		LIMIT $%d`, strings.Join(conds, " AND "), len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var out []domain.LifecycleTransition
	for rows.Next() {
		var t domain.LifecycleTransition
		var from, to, cause string
		if err := rows.Scan(&t.TransitionID, &t.CaseID, &from, &to, &t.At, &cause, &t.CauseSeq); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.FromStatus = domain.CaseStatus(from)
		t.ToStatus = domain.CaseStatus(to)
		t.Cause = domain.TransitionCause(cause)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count 统计记录数
func (r *PostgresTransitionsRepository) Count(ctx context.Context, filter TransitionFilter) (int, error) {
	var conds []string
	var args []interface{}

	conds = append(conds, "TRUE")
	if filter.CaseID != "" {
		conds = append(conds, fmt.Sprintf("case_id = $%d", len(args)+1))
		args = append(args, filter.CaseID)
	}
	if filter.StartTime != nil {
		conds = append(conds, fmt.Sprintf("occurred_at >= $%d", len(args)+1))
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		conds = append(conds, fmt.Sprintf("occurred_at < $%d", len(args)+1))
		args = append(args, *filter.EndTime)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM case_transitions WHERE %s`, strings.Join(conds, " AND "))

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transitions: %w", err)
	}
	return count, nil
}
