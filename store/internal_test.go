package store

import (
	"errors"
	"testing"
	"time"
)

func doc(id, application, name string) *Document {
	return &Document{ID: id, Application: application, Name: name}
}

// --- Config Tests ---

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name         string
		in           Config
		wantInterval time.Duration
		wantTimeout  time.Duration
	}{
		{"zero values", Config{}, 15 * time.Second, 2 * time.Minute},
		{"negative values", Config{RefreshInterval: -1, RefreshTimeout: -1}, 15 * time.Second, 2 * time.Minute},
		{"below minimum", Config{RefreshInterval: time.Millisecond}, 100 * time.Millisecond, 2 * time.Minute},
		{"kept", Config{RefreshInterval: time.Minute, RefreshTimeout: time.Second}, time.Minute, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.validate()
			if c.RefreshInterval != tt.wantInterval {
				t.Errorf("expected interval %v, got %v", tt.wantInterval, c.RefreshInterval)
			}
			if c.RefreshTimeout != tt.wantTimeout {
				t.Errorf("expected timeout %v, got %v", tt.wantTimeout, c.RefreshTimeout)
			}
		})
	}
}

func TestConfigValidate_MaxSkipAge(t *testing.T) {
	c := Config{}
	c.validate()
	if c.MaxSkipAge != time.Minute {
		t.Errorf("expected default 1m, got %v", c.MaxSkipAge)
	}
	c = Config{MaxSkipAge: time.Millisecond}
	c.validate()
	if c.MaxSkipAge != 100*time.Millisecond {
		t.Errorf("expected clamp to 100ms, got %v", c.MaxSkipAge)
	}
}

// --- Validation Tests ---

func TestDocumentValidate(t *testing.T) {
	if err := doc("", "app", "name").validate(); err != nil {
		t.Errorf("expected valid document, got %v", err)
	}
	if err := doc("", "", "name").validate(); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument for missing application, got %v", err)
	}
	if err := doc("", "app", "").validate(); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("expected ErrInvalidDocument for missing name, got %v", err)
	}
}

// --- Uniqueness Tests ---

func TestCheckUniqueName(t *testing.T) {
	docs := []*Document{
		doc("1", "app1", "deploy"),
		doc("2", "app2", "deploy"),
	}

	tests := []struct {
		name    string
		d       *Document
		wantDup bool
	}{
		{"new name", doc("3", "app1", "rollback"), false},
		{"same name other application", doc("3", "app3", "deploy"), false},
		{"taken by other", doc("3", "app1", "deploy"), true},
		{"own name", doc("1", "app1", "deploy"), false},
		{"case sensitive", doc("3", "app1", "Deploy"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkUniqueName(docs, tt.d)
			if tt.wantDup && !errors.Is(err, ErrDuplicateName) {
				t.Errorf("expected ErrDuplicateName, got %v", err)
			}
			if !tt.wantDup && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestFindHelpers(t *testing.T) {
	docs := []*Document{doc("1", "app1", "a"), doc("2", "app2", "a")}

	if d := findByID(docs, "2"); d == nil || d.Application != "app2" {
		t.Errorf("expected app2 strategy, got %+v", d)
	}
	if d := findByID(docs, "3"); d != nil {
		t.Errorf("expected nil, got %+v", d)
	}
	if d := findByName(docs, "app2", "a"); d == nil || d.ID != "2" {
		t.Errorf("expected id 2, got %+v", d)
	}
	if d := findByName(docs, "app3", "a"); d != nil {
		t.Errorf("expected nil, got %+v", d)
	}
}

func TestSortDocuments(t *testing.T) {
	docs := []*Document{
		doc("3", "b", "x"),
		doc("2", "a", "y"),
		doc("1", "a", "y"),
		doc("4", "a", "b"),
	}
	sortDocuments(docs)

	want := []string{"4", "1", "2", "3"}
	for i, d := range docs {
		if d.ID != want[i] {
			t.Fatalf("position %d: expected id %s, got %s", i, want[i], d.ID)
		}
	}
}

// --- Snapshot Tests ---

func TestSnapshot_NilSafe(t *testing.T) {
	var s *Snapshot
	if s.Len() != 0 {
		t.Error("expected 0 for nil snapshot")
	}
	if _, ok := s.Get("x"); ok {
		t.Error("expected miss on nil snapshot")
	}
	if s.All() != nil {
		t.Error("expected nil listing for nil snapshot")
	}
	if !s.LoadedAt().IsZero() {
		t.Error("expected zero time for nil snapshot")
	}
}

func TestSnapshot_CopyOnWrite(t *testing.T) {
	base := newSnapshot([]*Document{doc("1", "app", "a")}, time.Unix(100, 0))

	added := base.with(doc("2", "app", "b"))
	if base.Len() != 1 {
		t.Errorf("expected base to be unchanged, got %d", base.Len())
	}
	if added.Len() != 2 {
		t.Errorf("expected 2, got %d", added.Len())
	}
	if !added.LoadedAt().Equal(base.LoadedAt()) {
		t.Error("expected LoadedAt to be carried over")
	}

	replaced := added.with(doc("1", "app", "renamed"))
	if d, _ := replaced.Get("1"); d.Name != "renamed" {
		t.Errorf("expected replaced name, got %q", d.Name)
	}
	if d, _ := added.Get("1"); d.Name != "a" {
		t.Errorf("expected previous snapshot to keep old name, got %q", d.Name)
	}

	removed := replaced.without("1")
	if removed.Len() != 1 || replaced.Len() != 2 {
		t.Errorf("expected 1 and 2, got %d and %d", removed.Len(), replaced.Len())
	}
	if same := removed.without("missing"); same != removed {
		t.Error("expected removing a missing id to return the same snapshot")
	}
}

func TestCache_PendingOnlyWhileInflight(t *testing.T) {
	c := NewCache(nil, Config{}, nil)

	c.apply(doc("1", "app", "a"))
	if len(c.pending) != 0 {
		t.Errorf("expected no pending writes outside a reload, got %d", len(c.pending))
	}

	c.beginReload()
	c.apply(doc("2", "app", "b"))
	c.remove("1")
	if len(c.pending) != 2 {
		t.Fatalf("expected 2 pending writes, got %d", len(c.pending))
	}

	snap := c.publish([]*Document{doc("1", "app", "a"), doc("3", "app", "c")})
	if c.inflight || c.pending != nil {
		t.Error("expected reload bookkeeping to be reset")
	}
	if _, ok := snap.Get("1"); ok {
		t.Error("expected pending remove to be replayed")
	}
	if _, ok := snap.Get("2"); !ok {
		t.Error("expected pending write to be replayed")
	}
	if _, ok := snap.Get("3"); !ok {
		t.Error("expected listed strategy to be kept")
	}

	c.beginReload()
	c.apply(doc("4", "app", "d"))
	c.abortReload()
	if c.inflight || c.pending != nil {
		t.Error("expected abort to reset reload bookkeeping")
	}
	if _, ok := c.Snapshot().Get("4"); !ok {
		t.Error("expected local write to stay published after abort")
	}
}
