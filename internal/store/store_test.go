package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"vrpbench/internal/model"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := t.Context()
	base := time.UnixMilli(time.Now().UnixMilli()).UTC()
	exp := model.Experiment{ID: uuid.NewString(), Status: model.ExperimentRunning, Total: 5, CreatedAt: base}
	if err := s.CreateExperiment(ctx, exp); err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	for i := 0; i < 5; i++ {
		r := model.RunRecord{
			ID:            uuid.NewString(),
			ExperimentID:  exp.ID,
			Seq:           i,
			Problem:       fmt.Sprintf("p%d", i%2),
			Variant:       string(model.VariantTSP),
			FirstSolution: "PATH_CHEAPEST_ARC",
			LocalSearch:   "None",
			Status:        model.RunSolved,
			ElapsedMs:     int64(10 * i),
			Summary:       "Objective: 1 miles\n",
			CreatedAt:     base.Add(time.Duration(i) * time.Millisecond),
		}
		if i == 3 {
			r.Status = model.RunNoSolution
			r.Summary = "No solution found."
		} else {
			obj := int64(100 + i)
			r.Objective = &obj
			r.Iterations = i
		}
		if err := s.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
		exp.Count(r.Status)
	}
	exp.Status = model.ExperimentCompleted
	done := base.Add(time.Second)
	exp.FinishedAt = &done
	if err := s.UpdateExperiment(ctx, exp); err != nil {
		t.Fatalf("UpdateExperiment: %v", err)
	}

	got, err := s.GetExperiment(ctx, exp.ID)
	if err != nil {
		t.Fatalf("GetExperiment: %v", err)
	}
	if got.Completed != 5 || got.Solved != 4 || got.NoSolution != 1 || got.Status != model.ExperimentCompleted {
		t.Fatalf("experiment=%+v", got)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(done) {
		t.Fatalf("finishedAt=%v want %v", got.FinishedAt, done)
	}

	page1, next, err := s.ListRuns(ctx, RunFilter{ExperimentID: exp.ID}, "", 3)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(page1) != 3 || next == "" {
		t.Fatalf("page1 len=%d next=%q", len(page1), next)
	}
	page2, next2, err := s.ListRuns(ctx, RunFilter{ExperimentID: exp.ID}, next, 3)
	if err != nil {
		t.Fatalf("ListRuns page2: %v", err)
	}
	if len(page2) != 2 || next2 != "" {
		t.Fatalf("page2 len=%d next=%q", len(page2), next2)
	}
	for i, r := range append(page1, page2...) {
		if r.Seq != i {
			t.Fatalf("run %d has seq %d", i, r.Seq)
		}
	}
	if page2[0].Objective != nil || page2[0].Status != model.RunNoSolution {
		t.Fatalf("seq 3=%+v want no solution without objective", page2[0])
	}
	if page2[1].Objective == nil || *page2[1].Objective != 104 || page2[1].Iterations != 4 {
		t.Fatalf("seq 4=%+v", page2[1])
	}

	p1, _, err := s.ListRuns(ctx, RunFilter{ExperimentID: exp.ID, Problem: "p1"}, "", 0)
	if err != nil || len(p1) != 2 {
		t.Fatalf("problem filter: %d runs, %v", len(p1), err)
	}
	one, err := s.GetRun(ctx, page1[1].ID)
	if err != nil || one.ID != page1[1].ID || one.Summary != page1[1].Summary {
		t.Fatalf("GetRun: %+v, %v", one, err)
	}
	if _, err := s.GetRun(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run: %v", err)
	}
	if _, err := s.GetExperiment(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing experiment: %v", err)
	}
	if err := s.UpdateExperiment(ctx, model.Experiment{ID: uuid.NewString()}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing experiment: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)

	exps, _, err := s.ListExperiments(t.Context(), "", 10)
	if err != nil || len(exps) != 1 {
		t.Fatalf("ListExperiments: %d, %v", len(exps), err)
	}
}

func TestMemoryListExperimentsPages(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 3; i++ {
		if err := m.CreateExperiment(t.Context(), model.Experiment{ID: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.CreateExperiment(t.Context(), model.Experiment{ID: "e0"}); err == nil {
		t.Fatal("duplicate experiment accepted")
	}
	page, next, _ := m.ListExperiments(t.Context(), "", 2)
	if len(page) != 2 || next != "e1" {
		t.Fatalf("page=%v next=%q", page, next)
	}
	page, next, _ = m.ListExperiments(t.Context(), next, 2)
	if len(page) != 1 || page[0].ID != "e2" || next != "" {
		t.Fatalf("page=%v next=%q", page, next)
	}
}

func TestOpenPicksBackend(t *testing.T) {
	st, err := Open(context.Background(), "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("no settings gave %T, want *Memory", st)
	}
	st, err = Open(context.Background(), "  ", filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	if _, ok := st.(*SQLite); !ok {
		t.Fatalf("sqlite path gave %T, want *SQLite", st)
	}
	if err := st.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
