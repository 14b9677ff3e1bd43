package docker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/docker/go-units"
)

const (
	psFormat    = "{{.ID}}\t{{.Names}}\t{{.Status}}"
	statsFormat = "{{.Name}}\t{{.CPUPerc}}\t{{.MemUsage}}\t{{.NetIO}}"
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// CLI drives the docker command-line client.
type CLI struct {
	binary string
	run    runFunc
}

func NewCLI(binary string) *CLI {
	if binary == "" {
		binary = "docker"
	}
	return &CLI{binary: binary, run: execRun}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s %s: %w", name, args[0], err)
		}
		return nil, fmt.Errorf("%s %s: %w: %s", name, args[0], err, msg)
	}
	return out, nil
}

func (c *CLI) Inventory(ctx context.Context) ([]InventoryRow, error) {
	out, err := c.run(ctx, c.binary, "ps", "-a", "--no-trunc", "--format", psFormat)
	if err != nil {
		return nil, err
	}
	return ParsePS(out)
}

func (c *CLI) Stats(ctx context.Context) ([]StatsRow, error) {
	out, err := c.run(ctx, c.binary, "stats", "--no-stream", "--format", statsFormat)
	if err != nil {
		return nil, err
	}
	return ParseStats(out)
}

// ParsePS reads tab-separated id, name and status lines.
func ParsePS(out []byte) ([]InventoryRow, error) {
	var rows []InventoryRow
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 3 {
			return nil, fmt.Errorf("malformed ps line: %q", line)
		}
		rows = append(rows, InventoryRow{ID: parts[0], Name: parts[1], Status: parts[2]})
	}
	return rows, sc.Err()
}

// ParseStats reads tab-separated name, cpu, memory and network columns.
// Fields the engine reports as "--" parse as zero.
func ParseStats(out []byte) ([]StatsRow, error) {
	var rows []StatsRow
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			return nil, fmt.Errorf("malformed stats line: %q", line)
		}
		row := StatsRow{Name: parts[0], CPUPercent: parsePercent(parts[1])}
		row.MemoryUsed, row.MemoryLimit = splitPair(parts[2], units.RAMInBytes)
		row.NetworkRx, row.NetworkTx = splitPair(parts[3], units.FromHumanSize)
		rows = append(rows, row)
	}
	return rows, sc.Err()
}

func parsePercent(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64)
	if err != nil {
		return 0
	}
	return v
}

// splitPair parses "a / b" with the given size parser. Memory columns use
// binary units (MiB), network columns decimal (kB).
func splitPair(s string, parse func(string) (int64, error)) (int64, int64) {
	left, right, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0
	}
	return parseSize(left, parse), parseSize(right, parse)
}

func parseSize(s string, parse func(string) (int64, error)) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return 0
	}
	v, err := parse(s)
	if err != nil {
		return 0
	}
	return v
}
