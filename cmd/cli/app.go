package cli

import (
	"context"

	"github.com/tphakala/pendant-go/internal/ingest"
	"github.com/tphakala/pendant-go/internal/logger"
)

// WithApp opens the application, runs fn and closes it.
func (r *Runtime) WithApp(ctx context.Context, fn func(*ingest.App) error) error {
	app, err := r.OpenApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := app.Close(); cerr != nil {
			r.Log.Warn("failed to close application", logger.Error(cerr))
		}
	}()
	return fn(app)
}
