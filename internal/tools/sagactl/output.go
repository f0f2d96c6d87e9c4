package sagactl

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/louisbranch/eventsaga/internal/storage"
	"github.com/louisbranch/eventsaga/internal/trace"
	"github.com/louisbranch/eventsaga/internal/trace/segment"
)

type printer struct {
	out  io.Writer
	json bool
}

type eventOutput struct {
	StreamID      string          `json:"stream_id"`
	Number        uint64          `json:"number"`
	Type          string          `json:"type"`
	Kind          string          `json:"kind"`
	SchemaVersion int             `json:"schema_version"`
	Timestamp     time.Time       `json:"timestamp"`
	TraceID       string          `json:"trace_id,omitempty"`
	Context       string          `json:"context,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

type contextOutput struct {
	Context    string     `json:"context"`
	Expected   bool       `json:"expected"`
	Resolution string     `json:"resolution"`
	Error      string     `json:"error,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type traceOutput struct {
	TraceID    string          `json:"trace_id"`
	Topic      string          `json:"topic"`
	Resolution string          `json:"resolution"`
	Errors     []string        `json:"errors,omitempty"`
	Contexts   []contextOutput `json:"contexts"`
	CreatedAt  time.Time       `json:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

type integrationOutput struct {
	Context    string    `json:"context"`
	Topic      string    `json:"topic,omitempty"`
	Resolution string    `json:"resolution"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

type summaryOutput struct {
	TraceID        string   `json:"trace_id"`
	Resolution     string   `json:"resolution"`
	ExpectedCount  int      `json:"expected_count"`
	CompletedCount int      `json:"completed_count"`
	Errors         []string `json:"errors,omitempty"`
}

type segmentOutput struct {
	TraceID    string     `json:"trace_id"`
	Subject    string     `json:"subject"`
	Resolution string     `json:"resolution"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (p printer) writeJSON(value any) error {
	enc := json.NewEncoder(p.out)
	enc.SetEscapeHTML(false)
	return enc.Encode(value)
}

func (p printer) events(streamID string, records []storage.EventRecord) error {
	if p.json {
		out := make([]eventOutput, 0, len(records))
		for _, rec := range records {
			item := eventOutput{
				StreamID:      rec.StreamID,
				Number:        rec.Number,
				Type:          rec.Topic,
				Kind:          rec.Kind,
				SchemaVersion: rec.SchemaVersion,
				Timestamp:     rec.Timestamp,
				TraceID:       rec.TraceID,
				Context:       rec.Context,
			}
			if json.Valid(rec.Payload) {
				item.Payload = rec.Payload
			}
			out = append(out, item)
		}
		return p.writeJSON(out)
	}
	if len(records) == 0 {
		_, err := fmt.Fprintf(p.out, "no events in %s\n", streamID)
		return err
	}
	for _, rec := range records {
		if _, err := fmt.Fprintf(p.out, "%s#%d\t%s\t%s\tv%d\t%s\t%s\t%s\n",
			rec.StreamID, rec.Number, rec.Topic, rec.Kind, rec.SchemaVersion,
			rec.Timestamp.Format(time.RFC3339Nano), dash(rec.TraceID), rec.Payload); err != nil {
			return err
		}
	}
	return nil
}

func contextsOf(t trace.Trace) []contextOutput {
	var out []contextOutput
	add := func(contexts map[string]trace.ContextResolution, expected bool) {
		for name, c := range contexts {
			out = append(out, contextOutput{
				Context:    name,
				Expected:   expected,
				Resolution: string(c.Resolution),
				Error:      c.Error,
				ResolvedAt: c.Timestamp,
			})
		}
	}
	add(t.Expected, true)
	add(t.Unexpected, false)
	slices.SortFunc(out, func(a, b contextOutput) int {
		if a.Expected != b.Expected {
			if a.Expected {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Context, b.Context)
	})
	return out
}

func (p printer) trace(t trace.Trace) error {
	contexts := contextsOf(t)
	if p.json {
		return p.writeJSON(traceOutput{
			TraceID:    t.ID,
			Topic:      t.Topic,
			Resolution: string(t.Resolution),
			Errors:     t.Errors,
			Contexts:   contexts,
			CreatedAt:  t.CreatedAt,
			ResolvedAt: t.ResolvedAt,
		})
	}
	summary := t.Summary()
	if _, err := fmt.Fprintf(p.out, "trace %s (%s): %s, %d/%d contexts\n",
		t.ID, dash(t.Topic), t.Resolution, summary.CompletedCount, summary.ExpectedCount); err != nil {
		return err
	}
	for _, c := range contexts {
		label := "expected"
		if !c.Expected {
			label = "unexpected"
		}
		if _, err := fmt.Fprintf(p.out, "  %s\t%s\t%s\t%s\n", c.Context, label, c.Resolution, dash(c.Error)); err != nil {
			return err
		}
	}
	return nil
}

func (p printer) integration(in trace.Integration) error {
	if p.json {
		return p.writeJSON(integrationOutput{
			Context:    in.Context,
			Topic:      in.Topic,
			Resolution: string(in.Resolution),
			Error:      in.Error,
			Timestamp:  in.Timestamp,
		})
	}
	_, err := fmt.Fprintf(p.out, "report %s\t%s\t%s\n", in.Context, in.Resolution, dash(in.Error))
	return err
}

func (p printer) summary(s trace.Summary) error {
	if p.json {
		return p.writeJSON(summaryOutput{
			TraceID:        s.TraceID,
			Resolution:     string(s.Resolution),
			ExpectedCount:  s.ExpectedCount,
			CompletedCount: s.CompletedCount,
			Errors:         s.Errors,
		})
	}
	if _, err := fmt.Fprintf(p.out, "trace %s resolved: %s\n", s.TraceID, s.Resolution); err != nil {
		return err
	}
	for _, msg := range s.Errors {
		if _, err := fmt.Fprintf(p.out, "  error: %s\n", msg); err != nil {
			return err
		}
	}
	return nil
}

func (p printer) segment(info segment.Info) error {
	if p.json {
		return p.writeJSON(segmentOutput{
			TraceID:    info.Key.Trace,
			Subject:    info.Key.Name,
			Resolution: string(info.Resolution),
			Error:      info.Error,
			Attempts:   info.Attempts,
			StartedAt:  info.StartedAt,
			FinishedAt: info.FinishedAt,
		})
	}
	_, err := fmt.Fprintf(p.out, "segment %s: %s, attempts %d, error %s\n",
		info.Key, info.Resolution, info.Attempts, dash(info.Error))
	return err
}

func dash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
