package experiment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrpbench/internal/metrics"
	"vrpbench/internal/model"
	"vrpbench/internal/report"
	"vrpbench/internal/store"
)

// TextSink appends every result to the text artifact and flushes per entry.
type TextSink struct {
	w     *bufio.Writer
	close func() error
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: bufio.NewWriter(w)}
}

// CreateTextFile truncates path and writes results to it.
func CreateTextFile(path string) (*TextSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := NewTextSink(f)
	s.close = f.Close
	return s, nil
}

func (s *TextSink) Record(ctx context.Context, r Result) error {
	if err := report.WriteEntry(s.w, r.Entry()); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *TextSink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	if s.close != nil {
		return s.close()
	}
	return nil
}

// StoreSink persists run records and keeps the experiment counters current.
type StoreSink struct {
	Store store.Store
	// OnRecord, when set, observes each record after it was saved.
	OnRecord func(model.RunRecord)

	mu  sync.Mutex
	exp model.Experiment
}

// StartExperiment creates the experiment row for plan and returns a sink
// bound to it.
func StartExperiment(ctx context.Context, st store.Store, id string, plan Plan) (*StoreSink, error) {
	if id == "" {
		id = uuid.NewString()
	}
	exp := model.Experiment{
		ID:        id,
		Status:    model.ExperimentRunning,
		Total:     plan.Size(),
		CreatedAt: time.Now().UTC(),
	}
	if err := st.CreateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}
	return &StoreSink{Store: st, exp: exp}, nil
}

func (s *StoreSink) Experiment() model.Experiment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exp
}

func (s *StoreSink) Record(ctx context.Context, r Result) error {
	rec := r.Record(uuid.NewString(), s.exp.ID, time.Now().UTC())
	// a cancelled sweep still records the runs that finished
	ctx = context.WithoutCancel(ctx)
	if err := s.Store.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	s.mu.Lock()
	s.exp.Count(rec.Status)
	exp := s.exp
	s.mu.Unlock()
	if err := s.Store.UpdateExperiment(ctx, exp); err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if s.OnRecord != nil {
		s.OnRecord(rec)
	}
	return nil
}

// Finish closes the experiment as completed, or cancelled when runErr is set.
func (s *StoreSink) Finish(ctx context.Context, runErr error) (model.Experiment, error) {
	s.mu.Lock()
	now := time.Now().UTC()
	s.exp.FinishedAt = &now
	s.exp.Status = model.ExperimentCompleted
	if runErr != nil {
		s.exp.Status = model.ExperimentCancelled
	}
	exp := s.exp
	s.mu.Unlock()
	return exp, s.Store.UpdateExperiment(context.WithoutCancel(ctx), exp)
}

// MetricsSink feeds the Prometheus collectors.
var MetricsSink = SinkFunc(func(ctx context.Context, r Result) error {
	metrics.ObserveRun(r.Problem.Name, r.FirstSolution.String(), r.Metaheuristic.String(),
		r.Status, r.Elapsed, r.Objective, r.Stats.Iterations)
	return nil
})
