package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hostwatch/internal/models"
)

// DefaultServicePaths are searched in order when no explicit inventory file
// is configured.
var DefaultServicePaths = []string{
	"./services.yaml",
	"./services.json",
	"/config/services.yaml",
	"/etc/hostwatch/services.yaml",
}

var ErrNoInventory = errors.New("no service inventory found")

// Inventory loads the service list from disk. It is read fresh on every
// call so edits take effect on the next collection pass.
type Inventory struct {
	paths    []string
	hostAddr string
	log      *slog.Logger

	inContainer func() bool
}

func NewInventory(cfg Config, logger *slog.Logger) *Inventory {
	paths := DefaultServicePaths
	if cfg.ServicesFile != "" {
		paths = append([]string{cfg.ServicesFile}, DefaultServicePaths...)
	}
	return &Inventory{
		paths:       paths,
		hostAddr:    cfg.HostAddr,
		log:         logger,
		inContainer: runningInContainer,
	}
}

// Load returns the normalized inventory. A missing or unreadable document
// yields an empty list; the problem is logged, never returned.
func (i *Inventory) Load() []models.ServiceConfig {
	services, path, err := i.read()
	if err != nil {
		if errors.Is(err, ErrNoInventory) {
			i.log.Info("no service inventory found", "paths", i.paths)
		} else {
			i.log.Warn("service inventory unusable", "path", path, "err", err)
		}
		return nil
	}
	out := make([]models.ServiceConfig, 0, len(services))
	for _, svc := range services {
		if svc.Name == "" && svc.ID == "" && svc.AliasID == "" {
			continue
		}
		out = append(out, i.normalize(svc))
	}
	return out
}

func (i *Inventory) read() ([]models.ServiceConfig, string, error) {
	for _, p := range i.paths {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, p, fmt.Errorf("read inventory: %w", err)
		}
		services, err := ParseServices(data)
		return services, p, err
	}
	return nil, "", ErrNoInventory
}

// ParseServices accepts either {services: [...]} or a bare list. JSON input
// is handled as YAML.
func ParseServices(data []byte) ([]models.ServiceConfig, error) {
	var doc struct {
		Services []models.ServiceConfig `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Services != nil {
		return doc.Services, nil
	}
	var list []models.ServiceConfig
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse inventory: %w", err)
	}
	return list, nil
}

func (i *Inventory) normalize(svc models.ServiceConfig) models.ServiceConfig {
	if svc.ID == "" {
		svc.ID = svc.AliasID
	}
	if svc.ID == "" {
		svc.ID = Slug(svc.Name)
	}
	svc.AliasID = ""
	if svc.Name == "" {
		svc.Name = svc.ID
	}
	if svc.InternalURL == "" {
		switch {
		case svc.InternalPort > 0:
			svc.InternalURL = "http://" + i.internalHost() + ":" + strconv.Itoa(svc.InternalPort)
		default:
			svc.InternalURL = svc.URL
		}
	}
	return svc
}

// internalHost is the configured override, else the docker host gateway
// when running inside a container, else localhost.
func (i *Inventory) internalHost() string {
	if i.hostAddr != "" {
		return i.hostAddr
	}
	if i.inContainer != nil && i.inContainer() {
		return "host.docker.internal"
	}
	return "localhost"
}

func runningInContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}

func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
