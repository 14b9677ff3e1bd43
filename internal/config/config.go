package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Addr      string
	DataDir   string
	DBPath    string
	LogLevel  string
	LogFormat string
	LogFile   string

	MetricsInterval        time.Duration
	MetricsStoreInterval   time.Duration
	ContainerInterval      time.Duration
	ContainerStoreInterval time.Duration
	ServiceInterval        time.Duration
	ServiceStoreInterval   time.Duration
	PublicInterval         time.Duration
	CatchUpDelay           time.Duration

	ServicesFile string
	HostAddr     string
	DiskPath     string

	DockerMode   string
	DockerBinary string
	DockerSocket string

	CPUThreshold    float64
	MemoryThreshold float64
	DiskThreshold   float64
	AlertCooldown   time.Duration

	FailureThreshold int
	RetryDelay       time.Duration
	ProbeTimeout     time.Duration
	DegradedAfter    time.Duration
	PublicTimeout    time.Duration
	PublicRetryDelay time.Duration
	RecoveryInterval time.Duration
	ProbeWorkers     int

	NtfyURL          string
	NtfyTopic        string
	NtfyToken        string
	TelegramBotToken string
	TelegramChatID   string
	PublicBaseURL    string
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"addr":                     "APP_ADDR",
	"data_dir":                 "APP_DATA_DIR",
	"db_path":                  "APP_DB_PATH",
	"log_level":                "APP_LOG_LEVEL",
	"log_format":               "APP_LOG_FORMAT",
	"log_file":                 "APP_LOG_FILE",
	"metrics_interval":         "APP_METRICS_INTERVAL",
	"metrics_store_interval":   "APP_METRICS_STORE_INTERVAL",
	"container_interval":       "APP_CONTAINER_INTERVAL",
	"container_store_interval": "APP_CONTAINER_STORE_INTERVAL",
	"service_interval":         "APP_SERVICE_INTERVAL",
	"service_store_interval":   "APP_SERVICE_STORE_INTERVAL",
	"public_interval":          "APP_PUBLIC_INTERVAL",
	"catch_up_delay":           "APP_CATCH_UP_DELAY",
	"services_file":            "APP_SERVICES_FILE",
	"host_addr":                "APP_HOST_ADDR",
	"disk_path":                "APP_DISK_PATH",
	"docker_mode":              "DOCKER_MODE",
	"docker_binary":            "DOCKER_BINARY",
	"docker_socket":            "DOCKER_SOCKET",
	"cpu_threshold":            "APP_CPU_THRESHOLD",
	"memory_threshold":         "APP_MEMORY_THRESHOLD",
	"disk_threshold":           "APP_DISK_THRESHOLD",
	"alert_cooldown":           "APP_ALERT_COOLDOWN",
	"failure_threshold":        "APP_FAILURE_THRESHOLD",
	"retry_delay":              "APP_RETRY_DELAY",
	"probe_timeout":            "APP_PROBE_TIMEOUT",
	"degraded_after":           "APP_DEGRADED_AFTER",
	"public_timeout":           "APP_PUBLIC_TIMEOUT",
	"public_retry_delay":       "APP_PUBLIC_RETRY_DELAY",
	"recovery_interval":        "APP_RECOVERY_INTERVAL",
	"probe_workers":            "APP_PROBE_WORKERS",
	"ntfy_url":                 "NTFY_URL",
	"ntfy_topic":               "NTFY_TOPIC",
	"ntfy_token":               "NTFY_TOKEN",
	"telegram_bot_token":       "TELEGRAM_BOT_TOKEN",
	"telegram_chat_id":         "TELEGRAM_CHAT_ID",
	"public_base_url":          "APP_PUBLIC_BASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_interval", 5*time.Second)
	v.SetDefault("metrics_store_interval", 30*time.Second)
	v.SetDefault("container_interval", 10*time.Second)
	v.SetDefault("container_store_interval", 30*time.Second)
	v.SetDefault("service_interval", 60*time.Second)
	v.SetDefault("service_store_interval", 60*time.Second)
	v.SetDefault("public_interval", 5*time.Minute)
	v.SetDefault("catch_up_delay", 60*time.Second)
	v.SetDefault("disk_path", "/")
	v.SetDefault("docker_mode", "cli")
	v.SetDefault("docker_binary", "docker")
	v.SetDefault("docker_socket", "/var/run/docker.sock")
	v.SetDefault("cpu_threshold", 90.0)
	v.SetDefault("memory_threshold", 90.0)
	v.SetDefault("disk_threshold", 90.0)
	v.SetDefault("alert_cooldown", 5*time.Minute)
	v.SetDefault("failure_threshold", 3)
	v.SetDefault("retry_delay", 15*time.Second)
	v.SetDefault("probe_timeout", 5*time.Second)
	v.SetDefault("degraded_after", 2000*time.Millisecond)
	v.SetDefault("public_timeout", 10*time.Second)
	v.SetDefault("public_retry_delay", 30*time.Second)
	v.SetDefault("recovery_interval", 60*time.Second)
	v.SetDefault("probe_workers", 16)
}

// Load reads defaults, then the optional file named by APP_CONFIG_FILE, then
// environment overrides.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	if err := v.BindEnv("config_file", "APP_CONFIG_FILE"); err != nil {
		return Config{}, fmt.Errorf("bind APP_CONFIG_FILE: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	dataDir := v.GetString("data_dir")
	dbPath := v.GetString("db_path")
	if dbPath == "" {
		dbPath = strings.TrimSuffix(dataDir, "/") + "/hostwatch.db"
	}
	cfg := Config{
		Addr:      v.GetString("addr"),
		DataDir:   dataDir,
		DBPath:    dbPath,
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogFile:   v.GetString("log_file"),

		MetricsInterval:        v.GetDuration("metrics_interval"),
		MetricsStoreInterval:   v.GetDuration("metrics_store_interval"),
		ContainerInterval:      v.GetDuration("container_interval"),
		ContainerStoreInterval: v.GetDuration("container_store_interval"),
		ServiceInterval:        v.GetDuration("service_interval"),
		ServiceStoreInterval:   v.GetDuration("service_store_interval"),
		PublicInterval:         v.GetDuration("public_interval"),
		CatchUpDelay:           v.GetDuration("catch_up_delay"),

		ServicesFile: v.GetString("services_file"),
		HostAddr:     v.GetString("host_addr"),
		DiskPath:     v.GetString("disk_path"),

		DockerMode:   strings.ToLower(v.GetString("docker_mode")),
		DockerBinary: v.GetString("docker_binary"),
		DockerSocket: v.GetString("docker_socket"),

		CPUThreshold:    v.GetFloat64("cpu_threshold"),
		MemoryThreshold: v.GetFloat64("memory_threshold"),
		DiskThreshold:   v.GetFloat64("disk_threshold"),
		AlertCooldown:   v.GetDuration("alert_cooldown"),

		FailureThreshold: v.GetInt("failure_threshold"),
		RetryDelay:       v.GetDuration("retry_delay"),
		ProbeTimeout:     v.GetDuration("probe_timeout"),
		DegradedAfter:    v.GetDuration("degraded_after"),
		PublicTimeout:    v.GetDuration("public_timeout"),
		PublicRetryDelay: v.GetDuration("public_retry_delay"),
		RecoveryInterval: v.GetDuration("recovery_interval"),
		ProbeWorkers:     v.GetInt("probe_workers"),

		NtfyURL:          v.GetString("ntfy_url"),
		NtfyTopic:        v.GetString("ntfy_topic"),
		NtfyToken:        v.GetString("ntfy_token"),
		TelegramBotToken: v.GetString("telegram_bot_token"),
		TelegramChatID:   v.GetString("telegram_chat_id"),
		PublicBaseURL:    v.GetString("public_base_url"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.DockerMode != "cli" && c.DockerMode != "api" {
		return fmt.Errorf("docker_mode must be cli or api, got %q", c.DockerMode)
	}
	for name, d := range map[string]time.Duration{
		"metrics_interval":   c.MetricsInterval,
		"container_interval": c.ContainerInterval,
		"service_interval":   c.ServiceInterval,
		"public_interval":    c.PublicInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.ProbeWorkers < 1 {
		return fmt.Errorf("probe_workers must be >= 1, got %d", c.ProbeWorkers)
	}
	return nil
}
