package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RetentionDays bounds how long records are kept on disk.
const RetentionDays = 30

type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	DayKey           string    `json:"day_key"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Operation        string    `json:"operation"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	UsageKnown       bool      `json:"usage_known"`
}

type Filter struct {
	DayKey    string
	Provider  string
	Operation string
	Limit     int
}

type Aggregate struct {
	Calls            int `json:"calls"`
	KnownCalls       int `json:"known_calls"`
	UnknownCalls     int `json:"unknown_calls"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Recorder is what LLM providers report to after each call.
type Recorder interface {
	Append(r Record) error
}

type Store struct {
	mu      sync.RWMutex
	records []Record
	path    string
	now     func() time.Time
}

// NewStore keeps records in memory; with a workspace they are also persisted
// to <workspace>/state/usage.json.
func NewStore(workspace string) *Store {
	s := &Store{
		records: make([]Record, 0, 256),
		now:     time.Now,
	}
	if workspace == "" {
		return s
	}
	stateDir := filepath.Join(workspace, "state")
	_ = os.MkdirAll(stateDir, 0755)
	s.path = filepath.Join(stateDir, "usage.json")
	s.load()
	return s
}

func (s *Store) DayKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

func (s *Store) TodayKey() string {
	return s.DayKey(s.now())
}

func (s *Store) Append(r Record) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now().UTC()
	}
	if r.DayKey == "" {
		r.DayKey = s.DayKey(r.Timestamp)
	}
	if r.TotalTokens == 0 {
		r.TotalTokens = r.PromptTokens + r.CompletionTokens
	}

	s.mu.Lock()
	s.records = append(s.records, r)
	s.pruneLocked()
	s.mu.Unlock()

	return s.save()
}

func (s *Store) Query(f Filter) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if f.DayKey != "" && r.DayKey != f.DayKey {
			continue
		}
		if f.Provider != "" && !strings.EqualFold(r.Provider, f.Provider) {
			continue
		}
		if f.Operation != "" && r.Operation != f.Operation {
			continue
		}
		out = append(out, r)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func AggregateRecords(records []Record) Aggregate {
	var agg Aggregate
	for _, r := range records {
		agg.add(r)
	}
	return agg
}

func ProviderBreakdown(records []Record) map[string]Aggregate {
	out := map[string]Aggregate{}
	for _, r := range records {
		p := strings.TrimSpace(r.Provider)
		if p == "" {
			p = "unknown"
		}
		agg := out[p]
		agg.add(r)
		out[p] = agg
	}
	return out
}

func (a *Aggregate) add(r Record) {
	a.Calls++
	if !r.UsageKnown {
		a.UnknownCalls++
		return
	}
	a.KnownCalls++
	a.PromptTokens += r.PromptTokens
	a.CompletionTokens += r.CompletionTokens
	a.TotalTokens += r.TotalTokens
}

func (s *Store) pruneLocked() {
	cutoff := s.now().AddDate(0, 0, -RetentionDays)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return
	}
	s.records = records
	s.pruneLocked()
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal usage records: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write usage temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace usage state: %w", err)
	}
	return nil
}
