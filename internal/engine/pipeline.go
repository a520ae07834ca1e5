// Package engine runs utterances through classification and applies the
// resulting commands to the active session in arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/liftlog/internal/classifier"
	"github.com/claude/liftlog/internal/models"
	"github.com/claude/liftlog/internal/session"
)

var (
	// ErrBusy is returned when the utterance queue is full.
	ErrBusy = errors.New("utterance queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pipeline closed")
	// ErrNoHistory is returned by QuickRepeat when the exercise has no
	// recorded sets.
	ErrNoHistory = errors.New("no history for exercise")
)

// Classifier turns an utterance into a command.
type Classifier interface {
	Classify(ctx context.Context, utterance string, cctx classifier.Context) (classifier.Command, error)
}

// Catalog names exercises by id.
type Catalog interface {
	Lookup(id string) (models.CatalogExercise, bool)
}

// Summarizer describes health samples collected during the session.
type Summarizer interface {
	Description() string
	Reset()
}

// Result is the outcome of one queued job.
type Result struct {
	Utterance string              `json:"utterance,omitempty"`
	Command   *classifier.Command `json:"command,omitempty"`
	Session   *models.Session     `json:"session,omitempty"`
	Err       error               `json:"-"`
	Duration  time.Duration       `json:"duration_ns"`
}

type job struct {
	ctx  context.Context
	name string
	run  func(ctx context.Context) Result
	done chan Result
}

// Pipeline is the single worker that owns the order of session mutations
// coming from utterances.
type Pipeline struct {
	classifier Classifier
	sessions   *session.Manager
	catalog    Catalog
	history    classifier.HistoryReader
	vitals     Summarizer
	log        *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	started bool
}

// New creates a Pipeline. catalog, history and vitals may be nil.
func New(cls Classifier, mgr *session.Manager, catalog Catalog, history classifier.HistoryReader, vitals Summarizer, queueSize int, log *slog.Logger) *Pipeline {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Pipeline{
		classifier: cls,
		sessions:   mgr,
		catalog:    catalog,
		history:    history,
		vitals:     vitals,
		log:        log,
		queue:      make(chan job, queueSize),
	}
}

// Start launches the worker. Jobs submitted before Start wait in the queue.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.wg.Add(1)
	go p.worker()
}

// Close stops accepting jobs, finishes queued ones and waits for the worker.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		for j := range p.queue {
			j.done <- Result{Err: ErrClosed}
		}
	}
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		if err := j.ctx.Err(); err != nil {
			j.done <- Result{Err: err}
			continue
		}
		start := time.Now()
		res := j.run(j.ctx)
		res.Duration = time.Since(start)
		if res.Err != nil {
			p.log.Info("job failed", "job", j.name, "error", res.Err, "duration", res.Duration.String())
		}
		j.done <- res
	}
}

// submit queues run without blocking. The returned channel receives exactly
// one Result.
func (p *Pipeline) submit(ctx context.Context, name string, run func(ctx context.Context) Result) (<-chan Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	j := job{ctx: ctx, name: name, run: run, done: make(chan Result, 1)}
	select {
	case p.queue <- j:
		return j.done, nil
	default:
		return nil, ErrBusy
	}
}

func wait(ctx context.Context, ch <-chan Result) (Result, error) {
	select {
	case res := <-ch:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Submit queues an utterance. Utterances are classified and applied one at
// a time in submission order; a new utterance never cancels one in flight.
func (p *Pipeline) Submit(ctx context.Context, utterance string) (<-chan Result, error) {
	return p.submit(ctx, "utterance", func(ctx context.Context) Result {
		return p.handle(ctx, utterance)
	})
}

// Process submits an utterance and waits for its result.
func (p *Pipeline) Process(ctx context.Context, utterance string) (Result, error) {
	ch, err := p.Submit(ctx, utterance)
	if err != nil {
		return Result{}, err
	}
	return wait(ctx, ch)
}

func (p *Pipeline) handle(ctx context.Context, utterance string) Result {
	res := Result{Utterance: utterance}

	var cctx classifier.Context
	if err := p.sessions.View(func(doc models.Session) error {
		cctx = classifier.BuildContext(doc, p.history)
		return nil
	}); err != nil {
		res.Err = err
		return res
	}

	cmd, err := p.classifier.Classify(ctx, utterance, cctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Command = &cmd

	doc, err := p.Execute(cmd)
	if err != nil {
		res.Err = fmt.Errorf("applying %s: %w", cmd.Type, err)
		return res
	}
	res.Session = &doc
	return res
}

// Execute applies a classified command to the active session.
func (p *Pipeline) Execute(cmd classifier.Command) (models.Session, error) {
	var ex session.Exercise
	if cmd.Exercise != nil {
		ex = session.Exercise{ID: cmd.Exercise.ID, Name: cmd.Exercise.Title}
	}

	switch cmd.Type {
	case classifier.LogSet:
		return p.sessions.LogSet(ex, session.SetInput{
			WeightKg:        cmd.Set.WeightKg,
			Reps:            cmd.Set.Reps,
			RPE:             cmd.Set.RPE,
			DurationSeconds: cmd.Set.DurationSeconds,
			Type:            cmd.Set.Type,
		})
	case classifier.SwitchExercise:
		return p.sessions.SwitchExercise(ex)
	case classifier.AddExercise:
		return p.sessions.AddExercise(ex, make([]models.PlannedSet, cmd.PlannedSets))
	case classifier.SkipExercise:
		return p.sessions.SkipExercise(ex)
	case classifier.Undo:
		return p.sessions.UndoLast()
	case classifier.EditLastSet:
		return p.sessions.EditSet(session.SetRef{}, patchFrom(cmd.Set))
	case classifier.EditSet:
		return p.sessions.EditSet(session.SetRef{ExerciseID: ex.ID, Ordinal: cmd.SetNumber}, patchFrom(cmd.Set))
	case classifier.DeleteSet:
		ref := session.SetRef{}
		if cmd.SetNumber > 0 || ex.ID != "" {
			ref = session.SetRef{ExerciseID: ex.ID, Ordinal: cmd.SetNumber}
		}
		return p.sessions.DeleteSet(ref)
	}
	return models.Session{}, fmt.Errorf("unsupported command %q", cmd.Type)
}

func patchFrom(v classifier.SetValues) session.SetPatch {
	return session.SetPatch{
		WeightKg:        v.WeightKg,
		Reps:            v.Reps,
		RPE:             v.RPE,
		DurationSeconds: v.DurationSeconds,
		Type:            v.Type,
	}
}

// QuickRepeat logs, without the language model, the historical set matching
// the next set of exerciseID (or of the current exercise when empty). When
// the session already has more sets than history, the last historical set
// is used.
func (p *Pipeline) QuickRepeat(ctx context.Context, exerciseID string) (Result, error) {
	ch, err := p.submit(ctx, "quick_repeat", func(ctx context.Context) Result {
		return p.quickRepeat(exerciseID)
	})
	if err != nil {
		return Result{}, err
	}
	return wait(ctx, ch)
}

func (p *Pipeline) quickRepeat(exerciseID string) Result {
	var (
		ex      session.Exercise
		ordinal int
	)
	err := p.sessions.View(func(doc models.Session) error {
		if exerciseID == "" {
			cur, ok := doc.Current()
			if !ok {
				return fmt.Errorf("%w: no current exercise", session.ErrExerciseNotFound)
			}
			ex = session.Exercise{ID: cur.ExerciseID, Name: cur.DisplayName}
			ordinal = cur.NextSetNumber()
			return nil
		}
		ex = session.Exercise{ID: exerciseID}
		ordinal = 1
		for _, e := range doc.Exercises {
			if e.ExerciseID == exerciseID {
				ex.Name = e.DisplayName
				ordinal = e.NextSetNumber()
			}
		}
		return nil
	})
	if err != nil {
		return Result{Err: err}
	}
	if ex.Name == "" && p.catalog != nil {
		if c, ok := p.catalog.Lookup(ex.ID); ok {
			ex.Name = c.Title
		}
	}
	if p.history == nil {
		return Result{Err: ErrNoHistory}
	}
	set, ok := p.history.MatchingSet(ex.ID, ordinal)
	if !ok {
		return Result{Err: fmt.Errorf("%w: %s", ErrNoHistory, ex.ID)}
	}

	doc, err := p.sessions.LogSet(ex, session.SetInput{
		WeightKg:        set.WeightKg,
		Reps:            set.Reps,
		RPE:             set.RPE,
		DurationSeconds: set.DurationSeconds,
		Type:            set.Type,
	})
	if err != nil {
		return Result{Err: err}
	}
	p.log.Info("quick repeat logged", "exercise_id", ex.ID, "set", ordinal)
	return Result{Session: &doc}
}

// Finish ends the session after every queued utterance has been applied.
// The vitals summary, if any, becomes the workout description.
func (p *Pipeline) Finish(ctx context.Context) (models.Session, error) {
	ch, err := p.submit(ctx, "finish", func(ctx context.Context) Result {
		var desc string
		if p.vitals != nil {
			desc = p.vitals.Description()
		}
		doc, err := p.sessions.Finish(desc)
		if err != nil {
			return Result{Err: err}
		}
		if p.vitals != nil {
			p.vitals.Reset()
		}
		return Result{Session: &doc}
	})
	if err != nil {
		return models.Session{}, err
	}
	res, err := wait(ctx, ch)
	if err != nil {
		return models.Session{}, err
	}
	return *res.Session, nil
}
