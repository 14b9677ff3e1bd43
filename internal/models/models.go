package models

import "time"

type MetricsSnapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsed    int64     `json:"memory_used"`
	MemoryTotal   int64     `json:"memory_total"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskUsed      int64     `json:"disk_used"`
	DiskTotal     int64     `json:"disk_total"`
	DiskPercent   float64   `json:"disk_percent"`
	NetworkRx     float64   `json:"network_rx"`
	NetworkTx     float64   `json:"network_tx"`
	Load1         float64   `json:"load_1m"`
	Load5         float64   `json:"load_5m"`
	Load15        float64   `json:"load_15m"`
	UptimeSec     int64     `json:"uptime"`
}

type ContainerStatus string

const (
	ContainerRunning    ContainerStatus = "running"
	ContainerStopped    ContainerStatus = "stopped"
	ContainerRestarting ContainerStatus = "restarting"
	ContainerPaused     ContainerStatus = "paused"
)

type ContainerSnapshot struct {
	Timestamp   time.Time       `json:"timestamp"`
	ContainerID string          `json:"container_id"`
	Name        string          `json:"name"`
	CPUPercent  float64         `json:"cpu_percent"`
	MemoryUsed  int64           `json:"memory_used"`
	MemoryLimit int64           `json:"memory_limit"`
	NetworkRx   int64           `json:"network_rx"`
	NetworkTx   int64           `json:"network_tx"`
	Status      ContainerStatus `json:"status"`
}

type ServiceStatus string

const (
	StatusOnline   ServiceStatus = "online"
	StatusDegraded ServiceStatus = "degraded"
	StatusOffline  ServiceStatus = "offline"
)

// CheckerKind tells which reachability path produced a snapshot.
type CheckerKind string

const (
	CheckerInternal CheckerKind = "internal"
	CheckerPublic   CheckerKind = "public"
)

type ServiceSnapshot struct {
	Timestamp    time.Time     `json:"timestamp"`
	ServiceID    string        `json:"service_id"`
	ServiceName  string        `json:"service_name"`
	Status       ServiceStatus `json:"status"`
	ResponseTime *int64        `json:"response_time,omitempty"`
	Checker      CheckerKind   `json:"checker"`
}

type NotificationType string

const (
	NotifyInfo    NotificationType = "info"
	NotifyWarning NotificationType = "warning"
	NotifyError   NotificationType = "error"
	NotifySuccess NotificationType = "success"
)

type Notification struct {
	ID        int64            `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	ServiceID string           `json:"service_id,omitempty"`
	Read      bool             `json:"read"`
}

type AggregationType string

const (
	AggregationHourly AggregationType = "hourly"
	AggregationDaily  AggregationType = "daily"
)

type AggregationLogEntry struct {
	AggregationType  AggregationType `json:"aggregation_type"`
	LastRun          time.Time       `json:"last_run"`
	RecordsProcessed int64           `json:"records_processed"`
	RecordsDeleted   int64           `json:"records_deleted"`
}

// MetricsRollup is one row of metrics_hourly or metrics_daily.
type MetricsRollup struct {
	BucketTimestamp  time.Time `json:"timestamp"`
	CPUPercentAvg    float64   `json:"cpu_percent_avg"`
	CPUPercentMax    float64   `json:"cpu_percent_max"`
	MemoryUsedAvg    float64   `json:"memory_used_avg"`
	MemoryUsedMax    float64   `json:"memory_used_max"`
	MemoryPercentAvg float64   `json:"memory_percent_avg"`
	MemoryPercentMax float64   `json:"memory_percent_max"`
	DiskUsedAvg      float64   `json:"disk_used_avg"`
	DiskUsedMax      float64   `json:"disk_used_max"`
	DiskPercentAvg   float64   `json:"disk_percent_avg"`
	DiskPercentMax   float64   `json:"disk_percent_max"`
	NetworkRxAvg     float64   `json:"network_rx_avg"`
	NetworkRxMax     float64   `json:"network_rx_max"`
	NetworkTxAvg     float64   `json:"network_tx_avg"`
	NetworkTxMax     float64   `json:"network_tx_max"`
	Load1Avg         float64   `json:"load_1m_avg"`
	Load1Max         float64   `json:"load_1m_max"`
	NetworkRxTotal   float64   `json:"network_rx_total"`
	NetworkTxTotal   float64   `json:"network_tx_total"`
	SampleCount      int64     `json:"sample_count"`
}

// ServiceConfig is one entry of the service inventory document. The id is
// read from "subdomain", or from "id" when subdomain is absent.
type ServiceConfig struct {
	Name         string `yaml:"name" json:"name"`
	ID           string `yaml:"subdomain" json:"subdomain"`
	URL          string `yaml:"url" json:"url"`
	InternalURL  string `yaml:"internal_url" json:"internal_url"`
	InternalPort int    `yaml:"internal_port" json:"internal_port"`
	Description  string `yaml:"description" json:"description"`
	InternalOnly bool   `yaml:"internal_only" json:"internal_only"`
	AliasID      string `yaml:"id" json:"-"`
}
