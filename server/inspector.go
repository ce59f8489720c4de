package server

import (
	"context"

	"github.com/go-pantheon/fabrica-dbgp/session"
)

// Inspector wraps the hooks run when a session is established or ends.
type Inspector func(InspectorFunc) InspectorFunc

type InspectorFunc func(ctx context.Context, s *session.Session) error

func emptyInspector(f InspectorFunc) InspectorFunc {
	return f
}

func EmptyInspectorFunc(_ context.Context, _ *session.Session) error {
	return nil
}

// Wrap chains inspectors; the first one runs outermost.
func Wrap(w ...Inspector) Inspector {
	return func(f InspectorFunc) InspectorFunc {
		for i := len(w) - 1; i >= 0; i-- {
			f = w[i](f)
		}

		return f
	}
}
