package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/rs/zerolog/log"
)

const StatsPath = "/debug/statsview"

// LaunchStats serves the runtime statistics viewer on addr until ctx is done.
// An empty addr leaves it disabled.
func LaunchStats(ctx context.Context, addr string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	viewer.SetConfiguration(viewer.WithAddr(addr))
	mgr := statsview.New()
	go func() {
		if err := mgr.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", addr).Msg("observability.stats server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		mgr.Stop()
	}()
	log.Info().Str("url", "http://"+addr+StatsPath).Msg("observability.stats server available")
}
