package collector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"hostwatch/internal/clock"
	"hostwatch/internal/docker"
	"hostwatch/internal/models"
)

// defaultMemoryLimit is reported for containers missing from the stats query.
const defaultMemoryLimit = 1 << 30

type ContainerCollector struct {
	rt    docker.Runtime
	clock clock.Clock
	log   *slog.Logger

	mu   sync.Mutex
	last []models.ContainerSnapshot
}

func NewContainerCollector(rt docker.Runtime, c clock.Clock, logger *slog.Logger) *ContainerCollector {
	return &ContainerCollector{rt: rt, clock: c, log: logger}
}

// Collect queries inventory and usage in parallel and joins them by name.
// When either query fails the previous result is returned along with the
// error, so callers can keep showing it without storing it twice.
func (c *ContainerCollector) Collect(ctx context.Context) ([]models.ContainerSnapshot, error) {
	var inventory []docker.InventoryRow
	var stats []docker.StatsRow
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := c.rt.Inventory(gctx)
		if err != nil {
			return fmt.Errorf("container inventory: %w", err)
		}
		inventory = rows
		return nil
	})
	g.Go(func() error {
		rows, err := c.rt.Stats(gctx)
		if err != nil {
			return fmt.Errorf("container stats: %w", err)
		}
		stats = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return c.cached(), err
	}

	byName := make(map[string]docker.StatsRow, len(stats))
	for _, s := range stats {
		byName[s.Name] = s
	}
	now := c.clock.Now()
	out := make([]models.ContainerSnapshot, 0, len(inventory))
	for _, inv := range inventory {
		snap := models.ContainerSnapshot{
			Timestamp:   now,
			ContainerID: inv.ID,
			Name:        inv.Name,
			Status:      docker.StatusFromText(inv.Status),
			MemoryLimit: defaultMemoryLimit,
		}
		if s, ok := byName[inv.Name]; ok {
			snap.CPUPercent = s.CPUPercent
			snap.MemoryUsed = s.MemoryUsed
			if s.MemoryLimit > 0 {
				snap.MemoryLimit = s.MemoryLimit
			}
			snap.NetworkRx = s.NetworkRx
			snap.NetworkTx = s.NetworkTx
		}
		out = append(out, snap)
	}

	c.mu.Lock()
	c.last = out
	c.mu.Unlock()
	return out, nil
}

func (c *ContainerCollector) cached() []models.ContainerSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ContainerSnapshot, len(c.last))
	copy(out, c.last)
	return out
}
