// Package vitals summarizes periodic health samples recorded during a
// session. How samples are captured is up to the caller.
package vitals

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude/liftlog/internal/models"
)

// Kind identifies what a sample measures.
type Kind string

const (
	HeartRate    Kind = "heart_rate"    // beats per minute
	ActiveEnergy Kind = "active_energy" // kilocalories burned since the previous sample
)

// Sample is one periodic reading.
type Sample struct {
	Kind  Kind      `json:"kind"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}

// Summary aggregates the samples seen so far.
type Summary struct {
	MinBPM     *float64   `json:"min_bpm,omitempty"`
	AvgBPM     *float64   `json:"avg_bpm,omitempty"`
	MaxBPM     *float64   `json:"max_bpm,omitempty"`
	ActiveKcal float64    `json:"active_kcal"`
	Samples    int        `json:"samples"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
}

// Summarizer accumulates samples for the active session. It is safe for
// concurrent use. As a session observer it starts empty for each new session
// and forgets samples of a discarded one.
type Summarizer struct {
	log *slog.Logger

	mu       sync.Mutex
	hrCount  int
	hrSum    float64
	hrMin    float64
	hrMax    float64
	kcal     float64
	samples  int
	from, to time.Time
}

// NewSummarizer creates an empty Summarizer.
func NewSummarizer(log *slog.Logger) *Summarizer {
	return &Summarizer{log: log}
}

// Add records one sample. Non-finite, negative and unknown samples are
// dropped.
func (s *Summarizer) Add(smp Sample) bool {
	if math.IsNaN(smp.Value) || math.IsInf(smp.Value, 0) || smp.Value < 0 {
		s.log.Debug("dropping invalid sample", "kind", smp.Kind, "value", smp.Value)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch smp.Kind {
	case HeartRate:
		if smp.Value == 0 {
			return false
		}
		if s.hrCount == 0 || smp.Value < s.hrMin {
			s.hrMin = smp.Value
		}
		if s.hrCount == 0 || smp.Value > s.hrMax {
			s.hrMax = smp.Value
		}
		s.hrCount++
		s.hrSum += smp.Value
	case ActiveEnergy:
		s.kcal += smp.Value
	default:
		s.log.Debug("dropping unknown sample", "kind", smp.Kind)
		return false
	}
	s.samples++
	if !smp.At.IsZero() {
		if s.from.IsZero() || smp.At.Before(s.from) {
			s.from = smp.At
		}
		if smp.At.After(s.to) {
			s.to = smp.At
		}
	}
	return true
}

// Summary returns the aggregate of every sample added since the last Reset.
func (s *Summarizer) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{ActiveKcal: s.kcal, Samples: s.samples}
	if s.hrCount > 0 {
		min, max, avg := s.hrMin, s.hrMax, s.hrSum/float64(s.hrCount)
		out.MinBPM, out.MaxBPM, out.AvgBPM = &min, &max, &avg
	}
	if !s.from.IsZero() {
		from, to := s.from, s.to
		out.From, out.To = &from, &to
	}
	return out
}

// Description formats the summary for a workout description. It is empty
// when nothing was recorded.
func (s *Summarizer) Description() string {
	return s.Summary().Description()
}

// Reset discards all samples.
func (s *Summarizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hrCount, s.hrSum, s.hrMin, s.hrMax = 0, 0, 0, 0
	s.kcal, s.samples = 0, 0
	s.from, s.to = time.Time{}, time.Time{}
}

// Description formats the summary as one line of text.
func (sum Summary) Description() string {
	var parts []string
	if sum.AvgBPM != nil {
		parts = append(parts, fmt.Sprintf("Heart rate avg %.0f bpm (min %.0f, max %.0f)", *sum.AvgBPM, *sum.MinBPM, *sum.MaxBPM))
	}
	if sum.ActiveKcal > 0 {
		parts = append(parts, fmt.Sprintf("Active energy %.0f kcal", sum.ActiveKcal))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, ". ") + "."
}

// SessionStarted discards samples left over from before the session began.
func (s *Summarizer) SessionStarted(doc models.Session) {
	s.Reset()
	s.log.Debug("vitals reset", "session", doc.ID, "reason", "started")
}

func (s *Summarizer) SessionDiscarded(id uuid.UUID) {
	s.Reset()
	s.log.Debug("vitals reset", "session", id, "reason", "discarded")
}

func (s *Summarizer) SessionChanged(models.Session)  {}
func (s *Summarizer) SessionEnded(models.Session)    {}
func (s *Summarizer) SessionRestored(models.Session) {}
