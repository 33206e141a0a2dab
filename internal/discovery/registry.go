// Package discovery resolves which streaming consumer a user's calls may be
// streamed to. Role holders and consumer services are declared in a YAML
// file that is reloaded when it changes.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/RenatoCabral2022/callstream/internal/metrics"
	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

// DefaultUser is the roles key consulted when a user has no entry of its own.
const DefaultUser = "*"

// Service is a consumer service declared in the roles file.
type Service struct {
	Package    string `yaml:"package"`
	Component  string `yaml:"component"`
	Address    string `yaml:"address"`
	Permission string `yaml:"permission"`
}

// File is the on-disk layout of the roles file.
type File struct {
	Services []Service           `yaml:"services"`
	Roles    map[string][]string `yaml:"roles"`
}

type snapshot struct {
	services map[string]Service
	roles    map[string][]string
}

// Registry implements streaming.Resolver over the roles file.
type Registry struct {
	path   string
	logger *zap.Logger
	cur    atomic.Pointer[snapshot]
}

// Open loads path and returns a registry serving it.
func Open(path string, logger *zap.Logger) (*Registry, error) {
	r := &Registry{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the roles file. On error the previous contents stay in use.
func (r *Registry) Reload() error {
	snap, err := load(r.path)
	if err != nil {
		metrics.RegistryReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	r.cur.Store(snap)
	metrics.RegistryReloadsTotal.WithLabelValues("ok").Inc()
	r.logger.Info("role registry loaded",
		zap.String("path", r.path),
		zap.Int("services", len(snap.services)),
		zap.Int("roles", len(snap.roles)),
	)
	return nil
}

func load(path string) (*snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roles file %s: %w", path, err)
	}

	snap := &snapshot{
		services: make(map[string]Service, len(f.Services)),
		roles:    f.Roles,
	}
	for _, s := range f.Services {
		if s.Package == "" {
			return nil, fmt.Errorf("parse roles file %s: service without package", path)
		}
		if _, dup := snap.services[s.Package]; dup {
			return nil, fmt.Errorf("parse roles file %s: duplicate service %q", path, s.Package)
		}
		snap.services[s.Package] = s
	}
	return snap, nil
}

// ResolveAuthorizedConsumer returns the service of the first role holder
// for user. It reports false when nobody holds the role or the holder
// declares no service.
func (r *Registry) ResolveAuthorizedConsumer(user string) (streaming.Candidate, bool) {
	snap := r.cur.Load()
	holders, ok := snap.roles[user]
	if !ok {
		holders = snap.roles[DefaultUser]
	}
	if len(holders) == 0 {
		return streaming.Candidate{}, false
	}

	svc, ok := snap.services[holders[0]]
	if !ok || svc.Address == "" {
		r.logger.Warn("role holder declares no streaming service", zap.String("package", holders[0]))
		return streaming.Candidate{}, false
	}
	return streaming.Candidate{
		Package:    svc.Package,
		Component:  svc.Component,
		Address:    svc.Address,
		Permission: svc.Permission,
	}, true
}

func (r *Registry) DeclaresRequiredCapability(c streaming.Candidate) bool {
	return c.Permission == streaming.RequiredPermission
}

// Watch reloads the registry whenever the roles file is written or
// replaced, until ctx ends. The directory is watched so that editors which
// save by rename are picked up too.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("role registry reload failed, keeping previous", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("role registry watcher error", zap.Error(err))
		}
	}
}

var _ streaming.Resolver = (*Registry)(nil)
