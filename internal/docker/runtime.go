package docker

import (
	"context"
	"strings"

	"hostwatch/internal/models"
)

// InventoryRow is one container known to the runtime, running or not.
type InventoryRow struct {
	ID     string
	Name   string
	Status string
}

// StatsRow is the live usage of one running container.
type StatsRow struct {
	Name        string
	CPUPercent  float64
	MemoryUsed  int64
	MemoryLimit int64
	NetworkRx   int64
	NetworkTx   int64
}

// Runtime is the container engine as seen by the collector: an inventory
// query and a one-shot usage query, issued independently.
type Runtime interface {
	Inventory(ctx context.Context) ([]InventoryRow, error)
	Stats(ctx context.Context) ([]StatsRow, error)
}

// StatusFromText maps the engine's human-readable status column. Paused
// containers report "Up ... (Paused)", so Paused is matched before Up.
func StatusFromText(text string) models.ContainerStatus {
	switch {
	case strings.Contains(text, "Paused"):
		return models.ContainerPaused
	case strings.Contains(text, "Restarting"):
		return models.ContainerRestarting
	case strings.Contains(text, "Up"):
		return models.ContainerRunning
	default:
		return models.ContainerStopped
	}
}
