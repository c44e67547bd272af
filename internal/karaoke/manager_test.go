package karaoke_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/sinfonia/internal/karaoke"
	"github.com/MrWong99/sinfonia/pkg/lyrics"
)

func TestManager_Lifecycle(t *testing.T) {
	m := karaoke.NewManager(karaoke.Config{})
	res := &fakeResource{id: "a"}

	s, err := m.Create(testAnalysis(), res)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID() == "" {
		t.Fatal("session has no ID")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}

	got, err := m.Get(s.ID())
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v; want the created session", got, err)
	}

	if err := m.Close(s.ID()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Released() != 1 {
		t.Error("resource not released on close")
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, karaoke.ErrSessionNotFound) {
		t.Errorf("Get after close err = %v, want ErrSessionNotFound", err)
	}
	if err := m.Close(s.ID()); !errors.Is(err, karaoke.ErrSessionNotFound) {
		t.Errorf("second Close err = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_CreateReleasesOnInvalidAnalysis(t *testing.T) {
	m := karaoke.NewManager(karaoke.Config{})
	res := &fakeResource{id: "a"}
	a := testAnalysis()
	a.Translation = append(a.Translation, lyrics.Line{Text: "extra"})

	if _, err := m.Create(a, res); !errors.Is(err, lyrics.ErrUnpaired) {
		t.Fatalf("Create err = %v, want ErrUnpaired", err)
	}
	if res.Released() != 1 {
		t.Error("resource leaked on failed create")
	}
	if m.Len() != 0 {
		t.Error("invalid session registered")
	}
}

func TestManager_Replace(t *testing.T) {
	m := karaoke.NewManager(karaoke.Config{})
	old := &fakeResource{id: "old"}
	s, _ := m.Create(testAnalysis(), old)

	next := &fakeResource{id: "new"}
	if err := m.Replace(s.ID(), next); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if old.Released() != 1 {
		t.Error("old resource not released")
	}
	if err := m.Replace("missing", next); !errors.Is(err, karaoke.ErrSessionNotFound) {
		t.Errorf("Replace unknown err = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_CloseAll(t *testing.T) {
	m := karaoke.NewManager(karaoke.Config{})
	var res []*fakeResource
	for _, id := range []string{"a", "b", "c"} {
		r := &fakeResource{id: id}
		res = append(res, r)
		if _, err := m.Create(testAnalysis(), r); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	res[1].err = errors.New("busy")

	if err := m.CloseAll(); err == nil {
		t.Error("CloseAll should report the failed release")
	}
	for _, r := range res {
		if r.Released() != 1 {
			t.Errorf("resource %s released %d times, want 1", r.id, r.Released())
		}
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after CloseAll", m.Len())
	}
}

func TestManager_CreateAllowsUntranslated(t *testing.T) {
	m := karaoke.NewManager(karaoke.Config{})
	a := testAnalysis()
	a.Translation = nil
	if _, err := m.Create(a, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_ = m.CloseAll()
}
