package state

import (
	"errors"
	"testing"
)

func TestEntityWriteWhileLockedFails(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	course, _ := m.State().Entity("course")

	err := course.Set("name", "renamed")
	var lockErr ErrLocked
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if lockErr.Kind != "course" || lockErr.Field != "name" {
		t.Fatalf("lock error must name kind and field, got %+v", lockErr)
	}
	if name, _ := course.Get("name"); name != "C1" {
		t.Fatalf("locked write must not mutate the entity, got %v", name)
	}
}

func TestEntityLockedWriteFailsEvenWhenValueUnchanged(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	course, _ := m.State().Entity("course")

	// The lock check runs before the equality short-circuit.
	if err := course.Set("name", "C1"); err == nil {
		t.Fatal("expected locked write to fail even for an identical value")
	}
}

func TestEntityIdempotentWriteEmitsNothing(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	m.SetLocked(false)
	course, _ := m.State().Entity("course")
	if err := course.Set("name", "C1"); err != nil {
		t.Fatalf("idempotent write must succeed: %v", err)
	}
	m.SetLocked(true)

	if rec.len() != 0 {
		t.Fatalf("idempotent write must not enqueue events, got %v", rec.names())
	}
}

func TestEntityWriteEventFanOut(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	m.SetLocked(false)
	cms, _ := m.State().Map("cm")
	cm, _ := cms.Get(5)
	if err := cm.Set("visible", false); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.SetLocked(true)

	for _, want := range []string{
		"cm.visible:updated",
		"cm[5].visible:updated",
		"cm[5]:updated",
		"cm:updated",
	} {
		if rec.count(want) != 1 {
			t.Fatalf("expected event %s once, got %v", want, rec.names())
		}
	}
	for _, ev := range rec.all() {
		if ev.Element != cm {
			t.Fatalf("events must carry the stored entity reference, got %v", ev.Element)
		}
	}
}

func TestEntityNewFieldEmitsCreated(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	m.SetLocked(false)
	course, _ := m.State().Entity("course")
	if err := course.Set("format", "topics"); err != nil {
		t.Fatalf("set: %v", err)
	}
	m.SetLocked(true)

	if rec.count("course.format:created") != 1 {
		t.Fatalf("expected created event for a new field, got %v", rec.names())
	}
	if rec.count("course:updated") != 1 {
		t.Fatalf("expected kind-level updated event, got %v", rec.names())
	}
}

func TestEntityDeleteField(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	rec.reset()

	m.SetLocked(false)
	cms, _ := m.State().Map("cm")
	cm, _ := cms.Get(5)
	existed, err := cm.Delete("visible")
	if err != nil || !existed {
		t.Fatalf("expected field deletion, got existed=%v err=%v", existed, err)
	}
	again, err := cm.Delete("visible")
	if err != nil || again {
		t.Fatalf("deleting an absent field must be a no-op, got existed=%v err=%v", again, err)
	}
	m.SetLocked(true)

	if _, ok := cm.Get("visible"); ok {
		t.Fatal("expected field removed")
	}
	if rec.count("cm[5].visible:deleted") != 1 {
		t.Fatalf("expected per-field deletion event, got %v", rec.names())
	}
	if rec.count("cm[5]:updated") != 1 {
		t.Fatalf("expected per-entity updated event, got %v", rec.names())
	}
}

func TestEntityDeleteWhileLockedFails(t *testing.T) {
	rec := &recorder{}
	m := newLoadedManager(t, rec)
	cms, _ := m.State().Map("cm")
	cm, _ := cms.Get(5)
	if _, err := cm.Delete("visible"); err == nil {
		t.Fatal("expected locked delete to fail")
	}
	if _, ok := cm.Get("visible"); !ok {
		t.Fatal("locked delete must not mutate the entity")
	}
}

func TestCanonicalID(t *testing.T) {
	cases := []struct {
		in   any
		want string
		ok   bool
	}{
		{nil, "", false},
		{"", "", false},
		{"abc", "abc", true},
		{5, "5", true},
		{int64(5), "5", true},
		{float64(5), "5", true},
		{float64(5.5), "5.5", true},
		{uint64(7), "7", true},
		{true, "", false},
	}
	for _, tc := range cases {
		got, ok := canonicalID(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("canonicalID(%v) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
