package vitals

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Health Auto Export time layouts.
const (
	HAETimeLayout     = "2006-01-02 15:04:05 -0700"
	HAEDateOnlyLayout = "2006-01-02"
)

const kilojoulesPerKcal = 4.184

// HAETime handles the Health Auto Export date format.
type HAETime struct {
	time.Time
}

func (t *HAETime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return t.Parse(s)
}

func (t HAETime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Format(HAETimeLayout))
}

// Parse parses a HAE time string, trying full datetime first, then date-only.
func (t *HAETime) Parse(s string) error {
	parsed, err := time.Parse(HAETimeLayout, s)
	if err == nil {
		t.Time = parsed
		return nil
	}
	parsed, err2 := time.Parse(HAEDateOnlyLayout, s)
	if err2 == nil {
		t.Time = parsed
		return nil
	}
	return fmt.Errorf("cannot parse HAE time %q: %w", s, err)
}

// HAEPayload is the Health Auto Export REST automation body. Only the
// metrics relevant to a live session are modeled.
type HAEPayload struct {
	Data struct {
		Metrics []HAEMetric `json:"metrics"`
	} `json:"data"`
}

// HAEMetric is a single metric entry with name, units and data points.
type HAEMetric struct {
	Name  string            `json:"name"`
	Units string            `json:"units"`
	Data  []json.RawMessage `json:"data"`
}

type haeQtyPoint struct {
	Date HAETime `json:"date"`
	Qty  float64 `json:"qty"`
}

// Heart rate points carry capitalized Min/Avg/Max fields.
type haeHeartRatePoint struct {
	Date HAETime `json:"date"`
	Min  float64 `json:"Min"`
	Avg  float64 `json:"Avg"`
	Max  float64 `json:"Max"`
}

// HAEResult counts what a payload contributed.
type HAEResult struct {
	Received int      `json:"received"`
	Accepted int      `json:"accepted"`
	Skipped  int      `json:"skipped"`
	Ignored  []string `json:"ignored_metrics,omitempty"`
}

// SamplesFromHAE converts heart_rate and active_energy metrics to samples.
// Other metrics are listed in the result and otherwise ignored.
func SamplesFromHAE(p HAEPayload) ([]Sample, HAEResult, error) {
	var (
		out     []Sample
		res     HAEResult
		ignored = map[string]bool{}
	)
	for _, m := range p.Data.Metrics {
		switch m.Name {
		case "heart_rate":
			for _, raw := range m.Data {
				res.Received++
				var dp haeHeartRatePoint
				if err := json.Unmarshal(raw, &dp); err != nil {
					res.Skipped++
					continue
				}
				out = append(out, Sample{Kind: HeartRate, Value: dp.Avg, At: dp.Date.Time})
			}
		case "active_energy":
			scale, err := energyScale(m.Units)
			if err != nil {
				return nil, res, err
			}
			for _, raw := range m.Data {
				res.Received++
				var dp haeQtyPoint
				if err := json.Unmarshal(raw, &dp); err != nil {
					res.Skipped++
					continue
				}
				out = append(out, Sample{Kind: ActiveEnergy, Value: dp.Qty * scale, At: dp.Date.Time})
			}
		default:
			if !ignored[m.Name] {
				ignored[m.Name] = true
				res.Ignored = append(res.Ignored, m.Name)
			}
		}
	}
	res.Accepted = len(out)
	return out, res, nil
}

func energyScale(units string) (float64, error) {
	switch strings.ToLower(units) {
	case "", "kcal", "cal":
		return 1, nil
	case "kj":
		return 1 / kilojoulesPerKcal, nil
	default:
		return 0, fmt.Errorf("unsupported energy unit %q", units)
	}
}
