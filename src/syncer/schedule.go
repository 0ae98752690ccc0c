package syncer

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedule starts a cron scheduler running incremental syncs on the cron expression. The
// caller stops it.
func (s *Service) Schedule(expr string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(expr, func() {
		started, err := s.RunSync(context.Background(), false)
		if !started && err == nil {
			s.logger.Debug("scheduled sync skipped, another is running")
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	s.logger.Info("sync schedule started", zap.String("schedule", expr))
	return c, nil
}
