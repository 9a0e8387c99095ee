package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T, observations ...Observation) (*SplitRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// Every connection to :memory: is a fresh database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewSplitRepository(db, zap.NewNop())
	repo.initialBackoff = time.Millisecond
	repo.maxBackoff = time.Millisecond
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	for i := range observations {
		if err := db.Create(&observations[i]).Error; err != nil {
			t.Fatalf("failed to seed observation %s: %v", observations[i].ID, err)
		}
	}
	return repo, db
}

func loadObservation(t *testing.T, db *gorm.DB, id string) Observation {
	t.Helper()
	var obs Observation
	if err := db.First(&obs, "id = ?", id).Error; err != nil {
		t.Fatalf("failed to load observation %s: %v", id, err)
	}
	return obs
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&SplitEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("failed to count split events: %v", err)
	}
	return n
}

func testEvent(requestID string) *SplitEvent {
	return &SplitEvent{
		RequestID:           requestID,
		ParentObservationID: "obs-parent",
		ParentImageURL:      "https://images.example.com/parent.jpg",
		LeftObservationID:   "obs-left",
		RightObservationID:  "obs-right",
		LeftImageURL:        "https://cdn.example.com/splits/obs-left.jpg",
		RightImageURL:       "https://cdn.example.com/splits/obs-right.jpg",
		SplitMethod:         "landscape-or-square",
	}
}

func TestRecordSplitUpdatesObservations(t *testing.T) {
	repo, db := newTestRepository(t,
		Observation{ID: "obs-parent", ImageURL: "https://images.example.com/parent.jpg"},
		Observation{ID: "obs-left"},
		Observation{ID: "obs-right"},
	)

	event := testEvent("req-1")
	if err := repo.RecordSplit(context.Background(), event); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if n := countEvents(t, db); n != 1 {
		t.Fatalf("expected 1 split event, got %d", n)
	}
	if event.ID == 0 || event.CreatedAt.IsZero() {
		t.Fatalf("expected stored event to carry id and timestamp, got %+v", event)
	}

	left := loadObservation(t, db, "obs-left")
	if !left.Processed || left.ParentID != "obs-parent" || left.ImageURL != event.LeftImageURL {
		t.Fatalf("unexpected left observation: %+v", left)
	}
	right := loadObservation(t, db, "obs-right")
	if !right.Processed || right.ParentID != "obs-parent" || right.ImageURL != event.RightImageURL {
		t.Fatalf("unexpected right observation: %+v", right)
	}
	parent := loadObservation(t, db, "obs-parent")
	if !parent.Processed {
		t.Fatal("expected parent to be marked processed")
	}
	if parent.ImageURL != "https://images.example.com/parent.jpg" {
		t.Fatalf("parent image url must not change, got %s", parent.ImageURL)
	}
}

func TestRecordSplitMatchesParentByImageURL(t *testing.T) {
	repo, db := newTestRepository(t,
		Observation{ID: "obs-source", ImageURL: "https://images.example.com/parent.jpg"},
		Observation{ID: "obs-left"},
		Observation{ID: "obs-right"},
	)

	event := testEvent("req-1")
	event.ParentObservationID = ""
	if err := repo.RecordSplit(context.Background(), event); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if parent := loadObservation(t, db, "obs-source"); !parent.Processed {
		t.Fatal("expected parent matched by image url to be marked processed")
	}
	if left := loadObservation(t, db, "obs-left"); left.ParentID != event.ParentImageURL {
		t.Fatalf("expected children to reference the parent image url, got %s", left.ParentID)
	}
}

func TestRecordSplitRollsBackOnMissingObservation(t *testing.T) {
	cases := []struct {
		name   string
		seed   []Observation
		mutate func(*SplitEvent)
	}{
		{
			name: "missing right child",
			seed: []Observation{{ID: "obs-parent"}, {ID: "obs-left"}},
		},
		{
			name: "missing parent id",
			seed: []Observation{{ID: "obs-left"}, {ID: "obs-right"}},
		},
		{
			name:   "unknown parent image url",
			seed:   []Observation{{ID: "obs-left"}, {ID: "obs-right"}},
			mutate: func(e *SplitEvent) { e.ParentObservationID = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, db := newTestRepository(t, tc.seed...)
			event := testEvent("req-1")
			if tc.mutate != nil {
				tc.mutate(event)
			}

			err := repo.RecordSplit(context.Background(), event)
			if !errors.Is(err, ErrObservationNotFound) {
				t.Fatalf("expected ErrObservationNotFound, got %v", err)
			}
			if n := countEvents(t, db); n != 0 {
				t.Fatalf("expected no split event after rollback, got %d", n)
			}
			if left := loadObservation(t, db, "obs-left"); left.Processed || left.ParentID != "" || left.ImageURL != "" {
				t.Fatalf("expected left observation untouched, got %+v", left)
			}
		})
	}
}

func TestFindLatestByParent(t *testing.T) {
	repo, _ := newTestRepository(t,
		Observation{ID: "obs-parent"},
		Observation{ID: "obs-left"},
		Observation{ID: "obs-right"},
	)
	ctx := context.Background()

	first := testEvent("req-1")
	first.CreatedAt = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	second := testEvent("req-2")
	second.CreatedAt = first.CreatedAt.Add(time.Hour)
	second.SplitMethod = "portrait-rotated"
	for _, event := range []*SplitEvent{first, second} {
		if err := repo.RecordSplit(ctx, event); err != nil {
			t.Fatalf("expected success, got error: %v", err)
		}
	}

	for _, key := range []string{"obs-parent", "https://images.example.com/parent.jpg"} {
		got, err := repo.FindLatestByParent(ctx, key)
		if err != nil {
			t.Fatalf("expected success for %s, got error: %v", key, err)
		}
		if got.RequestID != "req-2" {
			t.Fatalf("expected latest event req-2 for %s, got %s", key, got.RequestID)
		}
	}

	if _, err := repo.FindLatestByParent(ctx, "obs-unknown"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected gorm.ErrRecordNotFound, got %v", err)
	}
}

func TestAggregateMetrics(t *testing.T) {
	repo, db := newTestRepository(t)
	events := []SplitEvent{
		{RequestID: "req-1", SplitMethod: "landscape-or-square", CreatedAt: time.Now().UTC()},
		{RequestID: "req-2", SplitMethod: "portrait-rotated", CreatedAt: time.Now().UTC()},
		{RequestID: "req-3", SplitMethod: "portrait-rotated", CreatedAt: time.Now().UTC()},
	}
	if err := db.Create(&events).Error; err != nil {
		t.Fatalf("failed to seed events: %v", err)
	}

	agg, err := repo.AggregateMetrics(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if agg.TotalCount != 3 {
		t.Fatalf("expected 3 splits, got %d", agg.TotalCount)
	}
	if len(agg.ByMethod) != 2 {
		t.Fatalf("expected 2 methods, got %+v", agg.ByMethod)
	}
	if agg.ByMethod[0].SplitMethod != "landscape-or-square" || agg.ByMethod[0].Count != 1 {
		t.Fatalf("unexpected first bucket: %+v", agg.ByMethod[0])
	}
	if agg.ByMethod[1].SplitMethod != "portrait-rotated" || agg.ByMethod[1].Count != 2 {
		t.Fatalf("unexpected second bucket: %+v", agg.ByMethod[1])
	}
}
