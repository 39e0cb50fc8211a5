package logging

import (
	"context"
	"log/slog"
)

// componentKey is the attribute key that names a logger's component.
const componentKey = "component"

// componentHandler is a slog.Handler that filters records against the
// per-component levels of a Spec.
type componentHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewComponentHandler wraps inner with per-component level filtering.
func NewComponentHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &componentHandler{
		inner: inner,
		spec:  spec,
	}
}

// Enabled checks the level against the spec for the current component.
func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).ToSlog()
}

// Handle delegates to the inner handler if the record passes the
// component's level.
func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new handler with the attributes added. A
// "component" attribute switches which spec entry filters subsequent
// records.
func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &componentHandler{
		inner:     h.inner.WithAttrs(attrs),
		spec:      h.spec,
		component: h.component,
	}

	for _, attr := range attrs {
		if attr.Key == componentKey {
			next.component = attr.Value.String()
			break
		}
	}

	return next
}

// WithGroup returns a new handler with the group appended. The
// component carries over; grouping does not change filtering.
func (h *componentHandler) WithGroup(name string) slog.Handler {
	return &componentHandler{
		inner:     h.inner.WithGroup(name),
		spec:      h.spec,
		component: h.component,
	}
}
