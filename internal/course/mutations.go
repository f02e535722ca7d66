package course

import (
	"context"
	"fmt"
	"strconv"

	"coursestate/pkg/state"
)

// Mutations is the course editor mutation set. Every mutation validates its
// arguments, optionally marks the affected entities with the business
// "locked" flag (an in-progress indicator, distinct from the manager's write
// gate), calls the update service, and applies the returned records.
//
// Failure policy is per mutation: visibility toggles log and swallow service
// errors so the optimistic flags still clear, while structural operations
// (move, delete, duplicate) propagate the error to the dispatch caller.
type Mutations struct {
	service UpdateService
	logger  state.Logger
}

// NewMutations builds the mutation set around the given update service.
func NewMutations(service UpdateService, opts ...Option) *Mutations {
	o := applyOptions(opts)
	return &Mutations{service: service, logger: o.logger}
}

// Register installs the mutation set on the reactive instance.
func (mu *Mutations) Register(r *state.Reactive) {
	r.AddMutations(map[string]state.MutationFunc{
		"cmMove":        mu.cmMove,
		"sectionMove":   mu.sectionMove,
		"cmHide":        mu.cmHide,
		"cmShow":        mu.cmShow,
		"cmDuplicate":   mu.cmDuplicate,
		"cmDelete":      mu.cmDelete,
		"addSection":    mu.addSection,
		"removeSection": mu.removeSection,
		"sectionHide":   mu.sectionHide,
		"sectionShow":   mu.sectionShow,
		"cmLock":        mu.cmLock,
		"sectionLock":   mu.sectionLock,
		"cmState":       mu.cmState,
		"sectionState":  mu.sectionState,
		"courseState":   mu.courseState,
	})
}

func (mu *Mutations) cmMove(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	target, err := targetArg(args, 1)
	if err != nil {
		return err
	}
	if target.SectionID == 0 && target.CmID == 0 {
		return fmt.Errorf("cmMove requires a target section or a target cm")
	}
	return mu.applyAction(ctx, m, "cm", "cm_move", ids, target, false)
}

func (mu *Mutations) sectionMove(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	sectionID, err := int64Arg(args, 1)
	if err != nil {
		return err
	}
	if sectionID == 0 {
		return fmt.Errorf("sectionMove requires a target section")
	}
	return mu.applyAction(ctx, m, "section", "section_move", ids, Target{SectionID: sectionID}, false)
}

func (mu *Mutations) cmHide(ctx context.Context, m *state.StateManager, args ...any) error {
	return mu.visibilityAction(ctx, m, "cm", "cm_hide", args)
}

func (mu *Mutations) cmShow(ctx context.Context, m *state.StateManager, args ...any) error {
	return mu.visibilityAction(ctx, m, "cm", "cm_show", args)
}

func (mu *Mutations) sectionHide(ctx context.Context, m *state.StateManager, args ...any) error {
	return mu.visibilityAction(ctx, m, "section", "section_hide", args)
}

func (mu *Mutations) sectionShow(ctx context.Context, m *state.StateManager, args ...any) error {
	return mu.visibilityAction(ctx, m, "section", "section_show", args)
}

func (mu *Mutations) cmDuplicate(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	target, err := targetArg(args, 1)
	if err != nil {
		return err
	}
	return mu.applyAction(ctx, m, "cm", "cm_duplicate", ids, target, false)
}

func (mu *Mutations) cmDelete(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	return mu.applyAction(ctx, m, "cm", "cm_delete", ids, Target{}, false)
}

func (mu *Mutations) addSection(ctx context.Context, m *state.StateManager, args ...any) error {
	sectionID, err := int64Arg(args, 0)
	if err != nil {
		return err
	}
	courseID, err := courseIDOf(m)
	if err != nil {
		return err
	}
	updates, err := mu.service.CourseUpdates(ctx, "section_add", courseID, nil, Target{SectionID: sectionID})
	if err != nil {
		return fmt.Errorf("section_add: %w", err)
	}
	return m.ProcessUpdates(updates, nil)
}

func (mu *Mutations) removeSection(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	return mu.applyAction(ctx, m, "section", "section_remove", ids, Target{}, false)
}

// cmLock and sectionLock flip the in-progress flag without a service call.
// They exist so the host can mark entities busy around work the mutation set
// does not own, such as drag previews.

func (mu *Mutations) cmLock(_ context.Context, m *state.StateManager, args ...any) error {
	return mu.lockAction(m, "cm", args)
}

func (mu *Mutations) sectionLock(_ context.Context, m *state.StateManager, args ...any) error {
	return mu.lockAction(m, "section", args)
}

func (mu *Mutations) lockAction(m *state.StateManager, kind string, args []any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	locked, err := boolArg(args, 1)
	if err != nil {
		return err
	}
	return mu.setLockedFlag(m, kind, ids, locked)
}

// cmState, sectionState, and courseState re-sync client state with server
// truth. The server may legitimately return entities the client has never
// seen, so absent targets are created instead of failing the update pass.

func (mu *Mutations) cmState(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	return mu.refresh(ctx, m, "cm_state", ids)
}

func (mu *Mutations) sectionState(ctx context.Context, m *state.StateManager, args ...any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	return mu.refresh(ctx, m, "section_state", ids)
}

func (mu *Mutations) courseState(ctx context.Context, m *state.StateManager, _ ...any) error {
	return mu.refresh(ctx, m, "course_state", nil)
}

func (mu *Mutations) refresh(ctx context.Context, m *state.StateManager, action string, ids []int64) error {
	courseID, err := courseIDOf(m)
	if err != nil {
		return err
	}
	updates, err := mu.service.CourseUpdates(ctx, action, courseID, ids, Target{})
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	return m.ProcessUpdates(updates, map[string]state.UpdateHandler{
		state.UpdateUpdate: state.UpdateMissingAsCreate,
	})
}

// visibilityAction runs a hide/show action with the log-and-swallow failure
// policy: on service failure the optimistic flags clear and the dispatch
// succeeds, leaving the state unchanged.
func (mu *Mutations) visibilityAction(ctx context.Context, m *state.StateManager, kind, action string, args []any) error {
	ids, err := idsArg(args, 0)
	if err != nil {
		return err
	}
	return mu.applyAction(ctx, m, kind, action, ids, Target{}, true)
}

// applyAction is the shared action pipeline: mark busy, call the service,
// apply the returned records, clear busy regardless of outcome.
func (mu *Mutations) applyAction(ctx context.Context, m *state.StateManager, kind, action string, ids []int64, target Target, swallow bool) error {
	courseID, err := courseIDOf(m)
	if err != nil {
		return err
	}
	if err := mu.setLockedFlag(m, kind, ids, true); err != nil {
		return err
	}
	defer mu.clearLockedFlag(m, kind, ids)
	updates, err := mu.service.CourseUpdates(ctx, action, courseID, ids, target)
	if err != nil {
		if swallow {
			mu.logger.Error("course action failed", "action", action, "course", courseID, "error", err)
			return nil
		}
		return fmt.Errorf("%s: %w", action, err)
	}
	return m.ProcessUpdates(updates, nil)
}

// setLockedFlag opens an unlock window and flips the in-progress flag on each
// entity. Missing entities fail the mutation before any service call.
func (mu *Mutations) setLockedFlag(m *state.StateManager, kind string, ids []int64, locked bool) error {
	if len(ids) == 0 {
		return nil
	}
	m.SetLocked(false)
	defer m.SetLocked(true)
	entities, ok := m.State().Map(kind)
	if !ok {
		return state.ErrUnknownKind{Kind: kind}
	}
	for _, id := range ids {
		entity, ok := entities.Get(id)
		if !ok {
			return state.ErrEntityNotFound{Kind: kind, ID: strconv.FormatInt(id, 10)}
		}
		if err := entity.Set("locked", locked); err != nil {
			return err
		}
	}
	return nil
}

// clearLockedFlag is the deferred counterpart. Entities the applied updates
// deleted are skipped, and failures are logged rather than surfaced so the
// clear never masks the mutation's own result.
func (mu *Mutations) clearLockedFlag(m *state.StateManager, kind string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	m.SetLocked(false)
	defer m.SetLocked(true)
	entities, ok := m.State().Map(kind)
	if !ok {
		return
	}
	for _, id := range ids {
		entity, ok := entities.Get(id)
		if !ok {
			continue
		}
		if err := entity.Set("locked", false); err != nil {
			mu.logger.Warn("clear in-progress flag", "kind", kind, "id", id, "error", err)
		}
	}
}
