package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Josh-XT/AGiXT-sub003/internal/model"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// tenantFile is the on-disk layout of a FileConfigSource
type tenantFile struct {
	ServerCredentials map[string]model.Credential `yaml:"server_credentials"`
	Tenants           []*model.TenantConfig        `yaml:"tenants"`
}

// counterFile maps platform -> tenant -> counter name -> value
type counterFile map[string]map[string]map[string]int64

// FileConfigSource implements ConfigSource on a YAML file, re-read on every call.
// Counters are kept in a separate YAML state file.
type FileConfigSource struct {
	path      string
	statePath string
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewFileConfigSource creates a file-backed configuration source
func NewFileConfigSource(path, statePath string, logger *zap.Logger) (*FileConfigSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tenant config file: %w", err)
	}
	if statePath == "" {
		statePath = path + ".state"
	}

	return &FileConfigSource{
		path:      path,
		statePath: statePath,
		logger:    logger,
	}, nil
}

func (s *FileConfigSource) read() (*tenantFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant config file: %w", err)
	}

	var f tenantFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse tenant config file: %w", err)
	}
	return &f, nil
}

// ListEnabledTenantConfigs implements ConfigSource
func (s *FileConfigSource) ListEnabledTenantConfigs(ctx context.Context, platform string) ([]*model.TenantConfig, error) {
	f, err := s.read()
	if err != nil {
		return nil, err
	}

	var configs []*model.TenantConfig
	for _, cfg := range f.Tenants {
		if cfg == nil || cfg.Platform != platform || !cfg.Enabled {
			continue
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].TenantID < configs[j].TenantID })
	return configs, nil
}

// GetTenantConfig implements ConfigSource
func (s *FileConfigSource) GetTenantConfig(ctx context.Context, platform, tenantID string) (*model.TenantConfig, error) {
	f, err := s.read()
	if err != nil {
		return nil, err
	}

	for _, cfg := range f.Tenants {
		if cfg != nil && cfg.Platform == platform && cfg.TenantID == tenantID {
			return cfg, nil
		}
	}
	return nil, ErrNotFound
}

// GetServerWideCredential implements ConfigSource
func (s *FileConfigSource) GetServerWideCredential(ctx context.Context, platform string) (model.Credential, error) {
	f, err := s.read()
	if err != nil {
		return model.Credential{}, err
	}
	return f.ServerCredentials[platform], nil
}

func (s *FileConfigSource) readCounters() (counterFile, error) {
	counters := counterFile{}

	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return counters, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read counter state: %w", err)
	}

	if err := yaml.Unmarshal(data, &counters); err != nil {
		return nil, fmt.Errorf("failed to parse counter state: %w", err)
	}
	if counters == nil {
		counters = counterFile{}
	}
	return counters, nil
}

// LoadCounters implements ConfigSource
func (s *FileConfigSource) LoadCounters(ctx context.Context, platform, tenantID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readCounters()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64)
	for name, value := range all[platform][tenantID] {
		out[name] = value
	}
	return out, nil
}

// PersistCounters implements ConfigSource. The state file is replaced atomically.
func (s *FileConfigSource) PersistCounters(ctx context.Context, platform, tenantID string, counters map[string]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readCounters()
	if err != nil {
		return err
	}

	if all[platform] == nil {
		all[platform] = make(map[string]map[string]int64)
	}
	tenant := make(map[string]int64, len(counters))
	for name, value := range counters {
		tenant[name] = value
	}
	all[platform][tenantID] = tenant

	data, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to encode counter state: %w", err)
	}

	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write counter state: %w", err)
	}
	return os.Rename(tmp, s.statePath)
}

// Watch calls onChange whenever the tenant file is written, until ctx is done.
// The parent directory is watched so editors that replace the file are still seen.
func (s *FileConfigSource) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}

	target := filepath.Clean(s.path)

	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				s.logger.Info("Tenant config file changed", zap.String("path", s.path))
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Tenant config watcher error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Ping checks that the tenant file is still readable
func (s *FileConfigSource) Ping(ctx context.Context) error {
	_, err := s.read()
	return err
}

// Close implements ConfigSource
func (s *FileConfigSource) Close() {}
