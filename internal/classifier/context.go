package classifier

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/claude/liftlog/internal/models"
)

// HistoryReader supplies reference values from past sessions.
type HistoryReader interface {
	MatchingSet(exerciseID string, ordinal int) (models.CompletedSet, bool)
	Trend(exerciseID string) (models.Trend, bool)
}

// SetRef is a set shown to the model as a reference block.
type SetRef struct {
	ExerciseID   string              `json:"exercise_id"`
	ExerciseName string              `json:"exercise_name"`
	SetNumber    int                 `json:"set_number"`
	Set          models.CompletedSet `json:"set"`
}

// CurrentExercise describes the exercise being performed.
type CurrentExercise struct {
	ExerciseID  string             `json:"exercise_id"`
	Name        string             `json:"name"`
	NextSet     int                `json:"next_set"`
	Planned     int                `json:"planned"`
	NextTarget  *models.PlannedSet `json:"next_target,omitempty"`
	IsCompleted bool               `json:"is_completed"`
}

// RoutineLine is one exercise of the session as shown to the model.
type RoutineLine struct {
	Name          string `json:"name"`
	Completed     int    `json:"completed"`
	Planned       int    `json:"planned"`
	Done          bool   `json:"done"`
	Current       bool   `json:"current"`
	SupersetGroup *int   `json:"superset_group,omitempty"`
}

// Context is the textual snapshot of the session and history the model
// classifies against. JustLogged and LastWorkout are the only sources for
// referential values.
type Context struct {
	Current     *CurrentExercise `json:"current,omitempty"`
	Routine     []RoutineLine    `json:"routine"`
	JustLogged  *SetRef          `json:"just_logged,omitempty"`
	LastWorkout *SetRef          `json:"last_workout,omitempty"`
	Trend       *models.Trend    `json:"trend,omitempty"`
}

// BuildContext snapshots doc and the matching history. hist may be nil.
func BuildContext(doc models.Session, hist HistoryReader) Context {
	var c Context

	for i, ex := range doc.Exercises {
		c.Routine = append(c.Routine, RoutineLine{
			Name:          ex.DisplayName,
			Completed:     len(ex.CompletedSets),
			Planned:       len(ex.PlannedSets),
			Done:          ex.IsCompleted,
			Current:       i == doc.CurrentIndex,
			SupersetGroup: ex.SupersetGroup,
		})
	}

	if cur, ok := doc.Current(); ok {
		next := cur.NextSetNumber()
		ce := &CurrentExercise{
			ExerciseID:  cur.ExerciseID,
			Name:        cur.DisplayName,
			NextSet:     next,
			Planned:     len(cur.PlannedSets),
			IsCompleted: cur.IsCompleted,
		}
		if next <= len(cur.PlannedSets) {
			p := cur.PlannedSets[next-1]
			ce.NextTarget = &p
		}
		c.Current = ce

		if hist != nil {
			if s, ok := hist.MatchingSet(cur.ExerciseID, next); ok {
				c.LastWorkout = &SetRef{ExerciseID: cur.ExerciseID, ExerciseName: cur.DisplayName, SetNumber: next, Set: s}
			}
			if t, ok := hist.Trend(cur.ExerciseID); ok {
				c.Trend = &t
			}
		}
	}

	if exIdx, setIdx, ok := doc.LastCompleted(); ok {
		ex := doc.Exercises[exIdx]
		c.JustLogged = &SetRef{
			ExerciseID:   ex.ExerciseID,
			ExerciseName: ex.DisplayName,
			SetNumber:    setIdx + 1,
			Set:          ex.CompletedSets[setIdx].Clone(),
		}
	}
	return c
}

// Render formats the context as the blocks the system prompt refers to.
func (c Context) Render() string {
	var b strings.Builder

	b.WriteString("CURRENT EXERCISE:\n")
	if c.Current == nil {
		b.WriteString("  none\n")
	} else {
		fmt.Fprintf(&b, "  %s, next set: %d", c.Current.Name, c.Current.NextSet)
		if c.Current.Planned > 0 {
			fmt.Fprintf(&b, " of %d planned", c.Current.Planned)
		}
		if c.Current.IsCompleted {
			b.WriteString(" (completed)")
		}
		b.WriteByte('\n')
		if t := c.Current.NextTarget; t != nil {
			fmt.Fprintf(&b, "  target: %s\n", formatMetrics(t.WeightKg, t.Reps, t.RPE, t.DurationSeconds))
		}
	}

	b.WriteString("\nROUTINE:\n")
	if len(c.Routine) == 0 {
		b.WriteString("  empty\n")
	}
	for i, r := range c.Routine {
		marker := " "
		if r.Current {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %d. %s: %d", marker, i+1, r.Name, r.Completed)
		if r.Planned > 0 {
			fmt.Fprintf(&b, "/%d", r.Planned)
		}
		b.WriteString(" sets")
		if r.Done {
			b.WriteString(", done")
		}
		if r.SupersetGroup != nil {
			fmt.Fprintf(&b, ", superset %d", *r.SupersetGroup)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\nJUST LOGGED:\n")
	writeRef(&b, c.JustLogged)

	b.WriteString("\nLAST WORKOUT:\n")
	writeRef(&b, c.LastWorkout)

	if c.Trend != nil {
		fmt.Fprintf(&b, "\nTREND: %s over %d sessions", c.Trend.Direction, c.Trend.Sessions)
		if c.Trend.AverageWeight != nil {
			fmt.Fprintf(&b, ", avg %s kg", formatFloat(math.Round(*c.Trend.AverageWeight*10)/10))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeRef(b *strings.Builder, r *SetRef) {
	if r == nil {
		b.WriteString("  none\n")
		return
	}
	s := r.Set
	fmt.Fprintf(b, "  %s set %d: %s", r.ExerciseName, r.SetNumber, formatMetrics(s.WeightKg, s.Reps, s.RPE, s.DurationSeconds))
	if s.Type != "" && s.Type != models.SetNormal {
		fmt.Fprintf(b, ", %s", s.Type)
	}
	b.WriteByte('\n')
}

func formatMetrics(weight *float64, reps *int, rpe *float64, duration *int) string {
	var parts []string
	if weight != nil {
		parts = append(parts, "weight "+formatFloat(*weight)+" kg")
	}
	if reps != nil {
		parts = append(parts, "reps "+strconv.Itoa(*reps))
	}
	if rpe != nil {
		parts = append(parts, "rpe "+formatFloat(*rpe))
	}
	if duration != nil {
		parts = append(parts, "duration "+strconv.Itoa(*duration)+" s")
	}
	if len(parts) == 0 {
		return "no metrics"
	}
	return strings.Join(parts, ", ")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
