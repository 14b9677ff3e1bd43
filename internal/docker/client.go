package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Client talks to the Docker Engine API over its unix socket.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

type ContainerSummary struct {
	ID     string   `json:"Id"`
	Names  []string `json:"Names"`
	Image  string   `json:"Image"`
	State  string   `json:"State"`
	Status string   `json:"Status"`
}

func (s ContainerSummary) Name() string {
	if len(s.Names) == 0 {
		return s.ID
	}
	return strings.TrimPrefix(s.Names[0], "/")
}

type Stats struct {
	Name     string `json:"name"`
	CPUStats struct {
		CPUUsage struct {
			TotalUsage  uint64   `json:"total_usage"`
			PercpuUsage []uint64 `json:"percpu_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs     uint64 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemCPUUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
		Limit uint64 `json:"limit"`
	} `json:"memory_stats"`
	Networks map[string]NetworkStats `json:"networks"`
}

type NetworkStats struct {
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

func NewClient(socketPath string, logger *slog.Logger) *Client {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: 30 * time.Second}, log: logger}
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/_ping")
	return err
}

func (c *Client) ListContainers(ctx context.Context) ([]ContainerSummary, error) {
	b, err := c.do(ctx, "/containers/json?all=1")
	if err != nil {
		return nil, err
	}
	var out []ContainerSummary
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode container list: %w", err)
	}
	return out, nil
}

func (c *Client) ContainerStats(ctx context.Context, id string) (Stats, error) {
	b, err := c.do(ctx, "/containers/"+id+"/stats?stream=false")
	if err != nil {
		return Stats{}, err
	}
	var out Stats
	if err := json.Unmarshal(b, &out); err != nil {
		return Stats{}, fmt.Errorf("decode stats %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) Inventory(ctx context.Context) ([]InventoryRow, error) {
	list, err := c.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]InventoryRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, InventoryRow{ID: s.ID, Name: s.Name(), Status: s.Status})
	}
	return rows, nil
}

// Stats queries every running container concurrently, four at a time. A
// container whose stats call fails is left out, so the collector reports
// it with zero usage; only a failed listing or a cancelled ctx is an error.
func (c *Client) Stats(ctx context.Context) ([]StatsRow, error) {
	list, err := c.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	var running []ContainerSummary
	for _, s := range list {
		if s.State == "running" {
			running = append(running, s)
		}
	}
	rows := make([]StatsRow, len(running))
	ok := make([]bool, len(running))
	var g errgroup.Group
	g.SetLimit(4)
	for i, s := range running {
		g.Go(func() error {
			st, err := c.ContainerStats(ctx, s.ID)
			if err != nil {
				if c.log != nil {
					c.log.Warn("container stats unavailable", "container", s.Name(), "err", err)
				}
				return nil
			}
			rows[i] = NormalizeStats(s.Name(), st)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := rows[:0]
	for i, r := range rows {
		if ok[i] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, p string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+p, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(b))
		if msg == "" {
			msg = res.Status
		}
		return nil, fmt.Errorf("docker api GET %s failed: %s", p, msg)
	}
	return b, nil
}
