package course

import (
	"context"
	"fmt"
	"sync"

	"coursestate/pkg/state"
)

// Uploader tracks in-flight file uploads for one editing session. Each upload
// shows up immediately as a placeholder activity with a temporary negative id
// and the in-progress flag set; the server records replace the placeholder on
// success and the placeholder disappears on failure. Instances are owned by
// the hosting session and injected where needed.
type Uploader struct {
	service UploadService
	logger  state.Logger

	mu     sync.Mutex
	lastID int64
}

// NewUploader builds an uploader around the given upload service.
func NewUploader(service UploadService, opts ...Option) *Uploader {
	o := applyOptions(opts)
	return &Uploader{service: service, logger: o.logger}
}

// Register installs the fileUpload mutation. Arguments: section id, filename,
// file contents.
func (u *Uploader) Register(r *state.Reactive) {
	r.AddMutations(map[string]state.MutationFunc{
		"fileUpload": u.fileUpload,
	})
}

// nextPlaceholderID hands out strictly decreasing negative ids so concurrent
// uploads never collide with each other or with server-assigned ids.
func (u *Uploader) nextPlaceholderID() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lastID--
	return u.lastID
}

func (u *Uploader) fileUpload(ctx context.Context, m *state.StateManager, args ...any) error {
	sectionID, err := int64Arg(args, 0)
	if err != nil {
		return err
	}
	if sectionID == 0 {
		return fmt.Errorf("fileUpload requires a section id")
	}
	filename, err := stringArg(args, 1)
	if err != nil {
		return err
	}
	data, err := bytesArg(args, 2)
	if err != nil {
		return err
	}
	courseID, err := courseIDOf(m)
	if err != nil {
		return err
	}

	tempID := u.nextPlaceholderID()
	if err := u.addPlaceholder(m, sectionID, tempID, filename); err != nil {
		return err
	}

	updates, err := u.service.Upload(ctx, courseID, sectionID, filename, data)
	u.removePlaceholder(m, sectionID, tempID)
	if err != nil {
		return fmt.Errorf("upload %s: %w", filename, err)
	}
	return m.ProcessUpdates(updates, map[string]state.UpdateHandler{
		state.UpdateUpdate: state.UpdateMissingAsCreate,
	})
}

// addPlaceholder inserts the temporary activity and appends it to the
// section's cm list inside one unlock window.
func (u *Uploader) addPlaceholder(m *state.StateManager, sectionID, tempID int64, filename string) error {
	m.SetLocked(false)
	defer m.SetLocked(true)
	cms, ok := m.State().Map("cm")
	if !ok {
		return state.ErrUnknownKind{Kind: "cm"}
	}
	if _, err := cms.Add(map[string]any{
		"id":      tempID,
		"name":    filename,
		"visible": true,
		"locked":  true,
	}); err != nil {
		return err
	}
	return u.patchSectionCmlist(m, sectionID, tempID, true)
}

// removePlaceholder undoes addPlaceholder. It runs on both the success and
// the failure path, so problems are logged, not returned.
func (u *Uploader) removePlaceholder(m *state.StateManager, sectionID, tempID int64) {
	m.SetLocked(false)
	defer m.SetLocked(true)
	if cms, ok := m.State().Map("cm"); ok {
		if _, err := cms.Delete(tempID); err != nil {
			u.logger.Warn("remove upload placeholder", "cm", tempID, "error", err)
		}
	}
	if err := u.patchSectionCmlist(m, sectionID, tempID, false); err != nil {
		u.logger.Warn("remove placeholder from section", "section", sectionID, "error", err)
	}
}

// patchSectionCmlist replaces the section's whole cmlist field. Nested values
// are not observable in place, so the list is rebuilt and re-set.
func (u *Uploader) patchSectionCmlist(m *state.StateManager, sectionID, cmID int64, add bool) error {
	sections, ok := m.State().Map("section")
	if !ok {
		return state.ErrUnknownKind{Kind: "section"}
	}
	section, ok := sections.Get(sectionID)
	if !ok {
		return state.ErrEntityNotFound{Kind: "section", ID: fmt.Sprintf("%d", sectionID)}
	}
	var current []any
	if raw, ok := section.Get("cmlist"); ok {
		if list, ok := raw.([]any); ok {
			current = list
		}
	}
	next := make([]any, 0, len(current)+1)
	for _, item := range current {
		if n, ok := int64From(item); ok && n == cmID {
			continue
		}
		next = append(next, item)
	}
	if add {
		next = append(next, cmID)
	}
	return section.Set("cmlist", next)
}
