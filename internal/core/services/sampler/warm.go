package sampler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/domain"
)

// Warm preloads the host history from the durable store so a restart does
// not start with an empty chart. It is a no-op without a store.
func (s *Sampler) Warm(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	raw, err := s.store.Recent(ctx, SeriesSystem, s.cfg.Retention)
	if err != nil {
		return fmt.Errorf("failed to load metric history: %w", err)
	}

	history := make([]domain.MetricSnapshot, 0, len(raw))
	for _, entry := range raw {
		var snap domain.MetricSnapshot
		if err := json.Unmarshal(entry, &snap); err != nil {
			s.logger.Warn("skipping undecodable stored sample", zap.Error(err))
			continue
		}
		history = append(history, snap)
	}

	s.mu.Lock()
	s.history = append(history, s.history...)
	if over := len(s.history) - s.cfg.Retention; over > 0 {
		s.history = s.history[over:]
	}
	s.mu.Unlock()

	s.logger.Info("metric history restored", zap.Int("samples", len(history)))
	return nil
}
