package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/multierr"

	"github.com/minqiao/notepress-backend/api/responses"
	pkgerrors "github.com/minqiao/notepress-backend/pkg/errors"
	"github.com/minqiao/notepress-backend/pkg/logger"
)

// Pinger is any backing dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readyz reports ready only when every named dependency answers a ping.
func Readyz(logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		status := map[string]string{}
		var down []string
		var pingErr error
		for name, dep := range deps {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				status[name] = err.Error()
				down = append(down, name)
				pingErr = multierr.Append(pingErr, err)
				continue
			}
			status[name] = "ok"
		}
		if pingErr != nil {
			sort.Strings(down)
			responses.WriteError(ctx, logg, w,
				pkgerrors.Wrap(pkgerrors.CodeTransport, pingErr, strings.Join(down, ", ")+" unavailable"))
			return
		}
		responses.WriteSuccess(w, status)
	}
}
