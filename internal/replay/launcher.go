package replay

import (
	"context"
	"crypto/tls"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shiroyk/tracerbench-serve/internal/archive"
)

// Launcher starts one Endpoint per response set, all sharing a single
// *tls.Config, concurrently. A bind failure on any endpoint fails the
// whole launch; per-connection errors stay isolated within their own
// endpoint and are only logged.
type Launcher struct {
	Endpoints []*Endpoint
}

// NewLauncher builds a Launcher with one endpoint per set.
func NewLauncher(sets []*archive.ResponseSet, tlsConfig *tls.Config, logger *zap.Logger) *Launcher {
	endpoints := make([]*Endpoint, len(sets))
	for i, set := range sets {
		endpoints[i] = NewEndpoint(set, tlsConfig, logger)
	}
	return &Launcher{Endpoints: endpoints}
}

// Start runs every endpoint concurrently and blocks until one fails or
// ctx is canceled.
func (l *Launcher) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range l.Endpoints {
		e := e
		g.Go(func() error {
			return e.Start(gctx)
		})
	}
	return g.Wait()
}
