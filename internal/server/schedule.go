package server

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	dberrs "github.com/jdholdren/debrief/internal/errors"
)

// Schedule returns a cron that refreshes the digest on expr, a standard
// five-field cron expression. The caller starts and stops it.
func (s *Server) Schedule(expr string) (*cron.Cron, error) {
	c := cron.New()

	if _, err := c.AddFunc(expr, s.scheduledRefresh); err != nil {
		return nil, dberrs.E(dberrs.KindConfig, fmt.Errorf("error parsing refresh schedule: %w", err), dberrs.Detail{Field: "refresh_cron", Error: expr})
	}

	return c, nil
}

func (s *Server) scheduledRefresh() {
	slog.Info("scheduled refresh starting")

	err := s.Refresh(s.ctx)
	if dberrs.Is(err, dberrs.KindConflict) {
		slog.Info("skipping scheduled refresh, a run is in progress")
		return
	}
	if err != nil {
		return // Already logged
	}

	slog.Info("scheduled refresh complete")
}
