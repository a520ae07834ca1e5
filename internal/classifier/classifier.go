package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/claude/liftlog/internal/resolver"
)

// Request is one completion call.
type Request struct {
	System     string
	User       string
	Schema     map[string]any
	SchemaName string
}

// Completer performs a single completion at temperature 0, constrained to
// the request schema, and returns the raw response text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Resolver maps exercise names to catalog identifiers.
type Resolver interface {
	Resolve(name string) (resolver.Match, error)
}

// Classifier turns an utterance into one Command with a single model call.
type Classifier struct {
	llm           Completer
	resolver      Resolver
	lowConfidence float64
	log           *slog.Logger
}

// New creates a Classifier. Commands with confidence below lowConfidence
// are still returned, flagged and logged at warn level.
func New(llm Completer, res Resolver, lowConfidence float64, log *slog.Logger) *Classifier {
	return &Classifier{llm: llm, resolver: res, lowConfidence: lowConfidence, log: log}
}

// Classify sends utterance and the rendered context to the model and returns
// the validated command. Referential values are copied from the context
// block the model names, and exercise names are resolved against the
// catalog. Any failure returns an error and no command.
func (c *Classifier) Classify(ctx context.Context, utterance string, cctx Context) (Command, error) {
	if strings.TrimSpace(utterance) == "" {
		return Command{}, classificationError("", "empty utterance")
	}

	start := time.Now()
	raw, err := c.llm.Complete(ctx, Request{
		System:     systemPrompt,
		User:       userPrompt(cctx, utterance),
		Schema:     ResponseSchema(),
		SchemaName: SchemaName,
	})
	if err != nil {
		return Command{}, fmt.Errorf("classifier: completion: %w", err)
	}

	cmd, name, err := decode(raw)
	if err != nil {
		c.log.Warn("classification rejected", "utterance", utterance, "error", err)
		return Command{}, err
	}

	if name != "" {
		m, err := c.resolver.Resolve(name)
		if err != nil {
			c.log.Info("exercise not resolved", "name", name, "error", err)
			return Command{}, fmt.Errorf("resolving %q: %w", name, err)
		}
		cmd.Exercise = &ResolvedExercise{Spoken: name, ID: m.ID, Title: m.Title, Exact: m.Exact}
	}

	if err := applyReference(&cmd, cctx, raw); err != nil {
		c.log.Warn("classification rejected", "utterance", utterance, "error", err)
		return Command{}, err
	}

	attrs := []any{
		"command", cmd.Type,
		"confidence", cmd.Confidence,
		"reference", cmd.Reference,
		"duration", time.Since(start).String(),
	}
	if cmd.Confidence < c.lowConfidence {
		cmd.LowConfidence = true
		c.log.Warn("low confidence classification applied", append(attrs, "utterance", utterance, "rationale", cmd.Rationale)...)
	} else {
		c.log.Info("utterance classified", attrs...)
	}
	return cmd, nil
}

// applyReference fills values the model left null from the referenced
// context block. cmd.Exercise must already be resolved.
func applyReference(cmd *Command, cctx Context, raw string) error {
	var src *SetRef
	switch cmd.Reference {
	case RefNone:
		return nil
	case RefJustLogged:
		src = cctx.JustLogged
	case RefLastWorkout:
		src = cctx.LastWorkout
	}
	if src == nil {
		return &Error{Kind: ErrUnresolvedReference, Reason: fmt.Sprintf("%s block is empty", cmd.Reference), Raw: raw}
	}
	// LAST WORKOUT holds the current exercise's history only.
	if cmd.Reference == RefLastWorkout && cmd.Exercise != nil && cmd.Exercise.ID != src.ExerciseID {
		return &Error{
			Kind:   ErrUnresolvedReference,
			Reason: fmt.Sprintf("last_workout block is for %s, not %s", src.ExerciseID, cmd.Exercise.ID),
			Raw:    raw,
		}
	}

	s := src.Set.Clone()
	if cmd.Set.WeightKg == nil {
		cmd.Set.WeightKg = s.WeightKg
	}
	if cmd.Set.Reps == nil {
		cmd.Set.Reps = s.Reps
	}
	if cmd.Set.RPE == nil {
		cmd.Set.RPE = s.RPE
	}
	if cmd.Set.DurationSeconds == nil {
		cmd.Set.DurationSeconds = s.DurationSeconds
	}
	if cmd.Type == LogSet && !cmd.Set.hasMetrics() {
		return classificationError(raw, "referenced set has no metrics")
	}
	return nil
}
