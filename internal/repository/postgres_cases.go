package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"surgibot-sync/internal/domain"
)

// PostgresCasesRepository 病例Repository实现
type PostgresCasesRepository struct {
	db *sql.DB
}

// NewPostgresCasesRepository 创建病例Repository
func NewPostgresCasesRepository(db *sql.DB) *PostgresCasesRepository {
	return &PostgresCasesRepository{db: db}
}

// 确保实现了接口
var _ CasesRepository = (*PostgresCasesRepository)(nil)

const caseColumns = `
	case_id,
	hn_hash,
	patient_id,
	or_room_id,
	department_id,
	scheduled_at,
	period,
	queue_slot,
	overflow,
	status,
	COALESCE(case_size, ''),
	COALESCE(urgency, ''),
	postop_start,
	postop_end,
	COALESCE(surgeon_id, ''),
	COALESCE(anesthetist_id, ''),
	COALESCE(scrub_nurse_id, '')`

func scanCase(row interface{ Scan(...interface{}) error }) (*domain.Case, error) {
	var c domain.Case
	var status, period string
	var postopStart, postopEnd sql.NullTime
	err := row.Scan(
		&c.CaseID,
		&c.HNHash,
		&c.PatientID,
		&c.ORRoomID,
		&c.DepartmentID,
		&c.ScheduledAt,
		&period,
		&c.QueueSlot,
		&c.Overflow,
		&status,
		&c.CaseSize,
		&c.Urgency,
		&postopStart,
		&postopEnd,
		&c.PostOp.SurgeonID,
		&c.PostOp.AnesthetistID,
		&c.PostOp.ScrubNurseID,
	)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CaseStatus(status)
	c.Period = domain.Period(period)
	if postopStart.Valid {
		t := postopStart.Time
		c.PostOp.StartTime = &t
	}
	if postopEnd.Valid {
		t := postopEnd.Time
		c.PostOp.EndTime = &t
	}
	return &c, nil
}

// GetCase 按标识查询病例
func (r *PostgresCasesRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM surgery_cases WHERE case_id = $1`
	c, err := scanCase(r.db.QueryRowContext(ctx, query, caseID))
	if err == sql.ErrNoRows {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// ReadPostOpFields 读取术后补录字段
func (r *PostgresCasesRepository) ReadPostOpFields(ctx context.Context, caseID string) (domain.PostOpFields, error) {
	query := `SELECT postop_start, postop_end,
		COALESCE(surgeon_id, ''), COALESCE(anesthetist_id, ''), COALESCE(scrub_nurse_id, '')
		FROM surgery_cases WHERE case_id = $1`

	var fields domain.PostOpFields
	var start, end sql.NullTime
	err := r.db.QueryRowContext(ctx, query, caseID).Scan(
		&start, &end, &fields.SurgeonID, &fields.AnesthetistID, &fields.ScrubNurseID,
	)
	if err == sql.ErrNoRows {
		return fields, ErrCaseNotFound
	}
	if err != nil {
		return fields, fmt.Errorf("failed to read postop fields: %w", err)
	}
	if start.Valid {
		t := start.Time
		fields.StartTime = &t
	}
	if end.Valid {
		t := end.Time
		fields.EndTime = &t
	}
	return fields, nil
}

// WriteStatus 写入生命周期状态（completed 终态保护在 SQL 层再挡一次）
func (r *PostgresCasesRepository) WriteStatus(ctx context.Context, caseID string, status domain.CaseStatus, at time.Time) error {
	query := `UPDATE surgery_cases
		SET status = $2, status_changed_at = $3, updated_at = now()
		WHERE case_id = $1 AND status <> 'completed'`

	result, err := r.db.ExecContext(ctx, query, caseID, string(status), at)
	if err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// 区分不存在和已完成
		var existing string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM surgery_cases WHERE case_id = $1`, caseID).Scan(&existing)
		if err == sql.ErrNoRows {
			return ErrCaseNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check case status: %w", err)
		}
		return ErrCaseCompleted
	}
	return nil
}

// WriteQueueAssignment 写入队列位
func (r *PostgresCasesRepository) WriteQueueAssignment(ctx context.Context, caseID string, slot int, overflow bool) error {
	query := `UPDATE surgery_cases
		SET queue_slot = $2, overflow = $3, updated_at = now()
		WHERE case_id = $1`

	result, err := r.db.ExecContext(ctx, query, caseID, slot, overflow)
	if err != nil {
		return fmt.Errorf("failed to write queue assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrCaseNotFound
	}
	return nil
}

// ListActiveCases 查询某 OR/时段下的活跃病例（稳定排序）
func (r *PostgresCasesRepository) ListActiveCases(ctx context.Context, orRoomID string, period domain.Period) ([]*domain.Case, error) {
	query := `SELECT ` + caseColumns + `
		FROM surgery_cases
		WHERE or_room_id = $1 AND period = $2 AND status <> 'completed'
		ORDER BY scheduled_at ASC, case_id ASC`

	rows, err := r.db.QueryContext(ctx, query, orRoomID, string(period))
	if err != nil {
		return nil, fmt.Errorf("failed to list active cases: %w", err)
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ListByDate 查询某天的全部病例
func (r *PostgresCasesRepository) ListByDate(ctx context.Context, day time.Time) ([]*domain.Case, error) {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	query := `SELECT ` + caseColumns + `
		FROM surgery_cases
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at ASC, case_id ASC`

	rows, err := r.db.QueryContext(ctx, query, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases by date: %w", err)
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// UpsertCase 新建或更新排程记录
func (r *PostgresCasesRepository) UpsertCase(ctx context.Context, c *domain.Case) error {
	query := `INSERT INTO surgery_cases (
			case_id, hn_hash, patient_id, or_room_id, department_id,
			scheduled_at, period, queue_slot, overflow, status,
			case_size, urgency, postop_start, postop_end,
			surgeon_id, anesthetist_id, scrub_nurse_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (case_id) DO UPDATE SET
			hn_hash = EXCLUDED.hn_hash,
			patient_id = EXCLUDED.patient_id,
			or_room_id = EXCLUDED.or_room_id,
			department_id = EXCLUDED.department_id,
			scheduled_at = EXCLUDED.scheduled_at,
			period = EXCLUDED.period,
			case_size = EXCLUDED.case_size,
			urgency = EXCLUDED.urgency,
			postop_start = EXCLUDED.postop_start,
			postop_end = EXCLUDED.postop_end,
			surgeon_id = EXCLUDED.surgeon_id,
			anesthetist_id = EXCLUDED.anesthetist_id,
			scrub_nurse_id = EXCLUDED.scrub_nurse_id,
			updated_at = now()`

	_, err := r.db.ExecContext(ctx, query,
		c.CaseID, c.HNHash, c.PatientID, c.ORRoomID, c.DepartmentID,
		c.ScheduledAt, string(c.Period), c.QueueSlot, c.Overflow, string(c.Status),
		nullIfEmpty(c.CaseSize), nullIfEmpty(c.Urgency),
		c.PostOp.StartTime, c.PostOp.EndTime,
		nullIfEmpty(c.PostOp.SurgeonID), nullIfEmpty(c.PostOp.AnesthetistID), nullIfEmpty(c.PostOp.ScrubNurseID),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert case: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
