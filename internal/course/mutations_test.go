package course

import (
	"context"
	"errors"
	"testing"

	"coursestate/pkg/state"
)

type call struct {
	action   string
	courseID int64
	ids      []int64
	target   Target
}

type fakeService struct {
	calls   []call
	updates []state.Update
	err     error
	observe func()
}

func (f *fakeService) CourseUpdates(_ context.Context, action string, courseID int64, ids []int64, target Target) ([]state.Update, error) {
	f.calls = append(f.calls, call{action: action, courseID: courseID, ids: ids, target: target})
	if f.observe != nil {
		f.observe()
	}
	return f.updates, f.err
}

func courseDoc() map[string]any {
	return map[string]any{
		"course": map[string]any{"id": float64(1), "name": "C1"},
		"section": []any{
			map[string]any{"id": float64(10), "name": "S1", "cmlist": []any{float64(5)}},
		},
		"cm": []any{
			map[string]any{"id": float64(5), "name": "Quiz", "visible": true},
		},
	}
}

func newEditor(t *testing.T, service UpdateService) *state.Reactive {
	t.Helper()
	r, err := state.NewReactive("course-editor", state.WithInitialState(courseDoc()))
	if err != nil {
		t.Fatalf("new reactive: %v", err)
	}
	NewMutations(service).Register(r)
	return r
}

func cmField(t *testing.T, r *state.Reactive, id any, field string) (any, bool) {
	t.Helper()
	cms, ok := r.State().Map("cm")
	if !ok {
		t.Fatal("expected cm collection")
	}
	cm, ok := cms.Get(id)
	if !ok {
		return nil, false
	}
	return cm.Get(field)
}

func TestCmHideAppliesServerUpdates(t *testing.T) {
	svc := &fakeService{updates: []state.Update{
		{Name: "cm", Action: state.UpdateUpdate, Fields: map[string]any{"id": 5, "visible": false}},
	}}
	r := newEditor(t, svc)
	svc.observe = func() {
		if locked, _ := cmField(t, r, 5, "locked"); locked != true {
			t.Error("cm must carry the in-progress flag during the service call")
		}
	}

	if err := r.Dispatch(context.Background(), "cmHide", []int64{5}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(svc.calls) != 1 {
		t.Fatalf("expected one service call, got %d", len(svc.calls))
	}
	got := svc.calls[0]
	if got.action != "cm_hide" || got.courseID != 1 || len(got.ids) != 1 || got.ids[0] != 5 {
		t.Fatalf("unexpected service call %+v", got)
	}
	if visible, _ := cmField(t, r, 5, "visible"); visible != false {
		t.Fatalf("expected cm hidden, got visible=%v", visible)
	}
	if locked, _ := cmField(t, r, 5, "locked"); locked != false {
		t.Fatalf("in-progress flag must clear after the mutation, got %v", locked)
	}
}

func TestCmHideSwallowsServiceFailure(t *testing.T) {
	svc := &fakeService{err: errors.New("service unavailable")}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "cmHide", []int64{5}); err != nil {
		t.Fatalf("visibility mutations must swallow service failures, got %v", err)
	}
	if visible, _ := cmField(t, r, 5, "visible"); visible != true {
		t.Fatalf("state must stay unchanged on failure, got visible=%v", visible)
	}
	if locked, _ := cmField(t, r, 5, "locked"); locked != false {
		t.Fatalf("in-progress flag must clear on failure, got %v", locked)
	}
}

func TestCmHideUnknownEntityFailsBeforeServiceCall(t *testing.T) {
	svc := &fakeService{}
	r := newEditor(t, svc)

	err := r.Dispatch(context.Background(), "cmHide", []int64{999})
	var notFound state.ErrEntityNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}
	if len(svc.calls) != 0 {
		t.Fatal("unknown entities must fail before any service call")
	}
}

func TestCmMoveRequiresTarget(t *testing.T) {
	svc := &fakeService{}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "cmMove", []int64{5}); err == nil {
		t.Fatal("expected cmMove without a target to fail")
	}
	if len(svc.calls) != 0 {
		t.Fatal("validation must run before any service call")
	}
}

func TestCmMovePassesTarget(t *testing.T) {
	svc := &fakeService{updates: []state.Update{
		{Name: "section", Action: state.UpdateUpdate, Fields: map[string]any{"id": 10, "cmlist": []any{5}}},
	}}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "cmMove", []int64{5}, Target{SectionID: 10}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := svc.calls[0]
	if got.action != "cm_move" || got.target.SectionID != 10 || got.target.CmID != 0 {
		t.Fatalf("unexpected service call %+v", got)
	}
}

func TestSectionMoveRequiresTarget(t *testing.T) {
	svc := &fakeService{}
	r := newEditor(t, svc)
	if err := r.Dispatch(context.Background(), "sectionMove", []int64{10}); err == nil {
		t.Fatal("expected sectionMove without a target to fail")
	}
}

func TestCmDeleteRemovesEntity(t *testing.T) {
	svc := &fakeService{updates: []state.Update{
		{Name: "cm", Action: state.UpdateDelete, Fields: map[string]any{"id": 5}},
	}}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "cmDelete", []int64{5}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	cms, _ := r.State().Map("cm")
	if cms.Has(5) {
		t.Fatal("expected cm removed")
	}
}

func TestCmDeletePropagatesFailure(t *testing.T) {
	boom := errors.New("service unavailable")
	svc := &fakeService{err: boom}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "cmDelete", []int64{5}); !errors.Is(err, boom) {
		t.Fatalf("structural mutations must propagate failures, got %v", err)
	}
	if locked, _ := cmField(t, r, 5, "locked"); locked != false {
		t.Fatalf("in-progress flag must clear on failure, got %v", locked)
	}
}

func TestAddSection(t *testing.T) {
	svc := &fakeService{updates: []state.Update{
		{Name: "section", Action: state.UpdateCreate, Fields: map[string]any{"id": 11, "name": "S2", "cmlist": []any{}}},
	}}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "addSection", int64(10)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	got := svc.calls[0]
	if got.action != "section_add" || got.target.SectionID != 10 || len(got.ids) != 0 {
		t.Fatalf("unexpected service call %+v", got)
	}
	sections, _ := r.State().Map("section")
	if !sections.Has(11) {
		t.Fatal("expected new section in state")
	}
}

func TestCourseStateCreatesUnknownEntities(t *testing.T) {
	svc := &fakeService{updates: []state.Update{
		{Name: "cm", Fields: map[string]any{"id": 99, "name": "New", "visible": true}},
		{Name: "course", Fields: map[string]any{"name": "C1 renamed"}},
	}}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "courseState"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := svc.calls[0]; got.action != "course_state" {
		t.Fatalf("unexpected service call %+v", got)
	}
	cms, _ := r.State().Map("cm")
	if !cms.Has(99) {
		t.Fatal("refresh must create server-introduced entities")
	}
	courseEntity, _ := r.State().Entity("course")
	if name, _ := courseEntity.Get("name"); name != "C1 renamed" {
		t.Fatalf("expected course rename applied, got %v", name)
	}
}

func TestCmLockTogglesBusyFlag(t *testing.T) {
	svc := &fakeService{}
	r := newEditor(t, svc)

	if err := r.Dispatch(context.Background(), "cmLock", []int64{5}, true); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if locked, _ := cmField(t, r, 5, "locked"); locked != true {
		t.Fatalf("expected in-progress flag set, got %v", locked)
	}
	if err := r.Dispatch(context.Background(), "cmLock", []int64{5}, false); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if locked, _ := cmField(t, r, 5, "locked"); locked != false {
		t.Fatalf("expected in-progress flag cleared, got %v", locked)
	}
	if len(svc.calls) != 0 {
		t.Fatal("lock mutations must not call the service")
	}
}
