//go:build integration
// +build integration

package repository

import (
	"context"
	"testing"
	"time"

	"surgibot-sync/internal/domain"
)

func TestPostgresTransitionsRepository_AppendIdempotent(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()
	defer cleanupTestCases(db)

	casesRepo := NewPostgresCasesRepository(db)
	repo := NewPostgresTransitionsRepository(db)
	ctx := context.Background()

	c := createTestCase(t, casesRepo, "test-case-tr-001", time.Now())
	tr := domain.NewTransition(c.CaseID, domain.StatusScheduled, domain.StatusObserved, time.Now().Truncate(time.Second), domain.CauseSnapshot, 1)

	inserted, err := repo.Append(ctx, tr)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if !inserted {
		t.Fatal("First append should insert")
	}

	// 同一 transition_id 的重复追加是 no-op
	inserted, err = repo.Append(ctx, tr)
	if err != nil {
		t.Fatalf("Duplicate append failed: %v", err)
	}
	if inserted {
		t.Fatal("Duplicate append must not insert")
	}

	count, err := repo.Count(ctx, TransitionFilter{CaseID: c.CaseID})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 transition, got %d", count)
	}
}

func TestPostgresTransitionsRepository_ListAfterKeyset(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()
	defer cleanupTestCases(db)

	casesRepo := NewPostgresCasesRepository(db)
	repo := NewPostgresTransitionsRepository(db)
	ctx := context.Background()

	c := createTestCase(t, casesRepo, "test-case-tr-002", time.Now())
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	var all []domain.LifecycleTransition
	for i := 0; i < 5; i++ {
		tr := domain.NewTransition(c.CaseID, domain.StatusScheduled, domain.StatusObserved, base.Add(time.Duration(i)*time.Minute), domain.CauseSnapshot, int64(i+1))
		if _, err := repo.Append(ctx, tr); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		all = append(all, tr)
	}

	// 第一页
	page1, err := repo.ListAfter(ctx, TransitionCursor{At: base}, TransitionFilter{CaseID: c.CaseID}, 3)
	if err != nil {
		t.Fatalf("ListAfter failed: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("Expected 3 transitions in first page, got %d", len(page1))
	}

	// 游标续读第二页，无重复无遗漏
	last := page1[len(page1)-1]
	page2, err := repo.ListAfter(ctx, TransitionCursor{At: last.At, ID: last.TransitionID}, TransitionFilter{CaseID: c.CaseID}, 3)
	if err != nil {
		t.Fatalf("ListAfter (page 2) failed: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("Expected 2 transitions in second page, got %d", len(page2))
	}

	got := append(page1, page2...)
	for i, tr := range got {
		if tr.TransitionID != all[i].TransitionID {
			t.Errorf("Position %d: expected %s, got %s", i, all[i].TransitionID, tr.TransitionID)
		}
	}
}

func TestPostgresTransitionsRepository_TimeRangeFilter(t *testing.T) {
	db := getTestDB(t)
	if db == nil {
		return
	}
	defer db.Close()
	defer cleanupTestCases(db)

	casesRepo := NewPostgresCasesRepository(db)
	repo := NewPostgresTransitionsRepository(db)
	ctx := context.Background()

	c := createTestCase(t, casesRepo, "test-case-tr-003", time.Now())
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 4; i++ {
		tr := domain.NewTransition(c.CaseID, domain.StatusScheduled, domain.StatusObserved, base.Add(time.Duration(i)*10*time.Minute), domain.CauseSnapshot, int64(i+1))
		if _, err := repo.Append(ctx, tr); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	start := base.Add(5 * time.Minute)
	end := base.Add(25 * time.Minute)
	count, err := repo.Count(ctx, TransitionFilter{CaseID: c.CaseID, StartTime: &start, EndTime: &end})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 transitions in [start, end), got %d", count)
	}
}
