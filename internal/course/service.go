// Package course implements the course editor mutation set: named operations
// dispatched through a state.Reactive instance that call an external update
// service and apply the resulting update records to the course state tree.
package course

import (
	"context"

	"coursestate/pkg/state"
)

// Target identifies the destination of a move operation. Zero values mean the
// corresponding target was not supplied.
type Target struct {
	SectionID int64
	CmID      int64
}

// UpdateService is the external collaborator mutations call to perform a
// course action server-side. Implementations own transport and serialization;
// the mutation layer only consumes the resulting update records.
type UpdateService interface {
	CourseUpdates(ctx context.Context, action string, courseID int64, ids []int64, target Target) ([]state.Update, error)
}

// UploadService receives one dropped file and returns the update records the
// finished upload produces.
type UploadService interface {
	Upload(ctx context.Context, courseID, sectionID int64, filename string, data []byte) ([]state.Update, error)
}

type options struct {
	logger state.Logger
}

// Option configures the mutation set or uploader at construction.
type Option func(*options)

// WithLogger injects the structured logger used for swallowed service
// failures.
func WithLogger(l state.Logger) Option {
	return func(o *options) { o.logger = l }
}

func applyOptions(opts []Option) options {
	o := options{logger: state.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
