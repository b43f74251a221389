package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/observability"
	"github.com/rajaqwerty1397/shopify-iam-app-sub001/pkg/provider"
)

// yamlFile is the on-disk seed format for development deployments.
type yamlFile struct {
	Stores []yamlStore `yaml:"stores"`
}

type yamlStore struct {
	ID        string         `yaml:"id"`
	Domain    string         `yaml:"domain"`
	Enabled   *bool          `yaml:"enabled"`
	Providers []yamlProvider `yaml:"providers"`
}

type yamlProvider struct {
	ID       string `yaml:"id"`
	Kind     string `yaml:"kind"`
	Protocol string `yaml:"protocol"`
	Enabled  *bool  `yaml:"enabled"`

	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	IssuerURL    string   `yaml:"issuer_url"`
	Scopes       []string `yaml:"scopes"`

	EntryPoint           string            `yaml:"entry_point"`
	Issuer               string            `yaml:"issuer"`
	Certificate          string            `yaml:"certificate"`
	PrivateKey           string            `yaml:"private_key"`
	SignRequests         bool              `yaml:"sign_requests"`
	WantAssertionsSigned bool              `yaml:"want_assertions_signed"`
	AttributeMapping     map[string]string `yaml:"attribute_mapping"`
}

// YAMLStore is an in-memory ConfigStore seeded from a YAML file. A watcher
// reloads the snapshot when the file changes; a broken edit keeps the last
// good snapshot in place.
type YAMLStore struct {
	path   string
	logger *observability.Logger

	mu        sync.RWMutex
	stores    map[string]*StoreRecord
	providers map[string]map[string]*ProviderRecord // storeID -> providerID

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewYAMLStore loads the seed file and starts watching it for changes.
func NewYAMLStore(path string, logger *observability.Logger) (*YAMLStore, error) {
	s := &YAMLStore{
		path:   path,
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory; editors replace files, which drops a watch on
	// the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *YAMLStore) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.WithError(err).Error("provider seed reload failed; keeping previous snapshot")
				continue
			}
			s.logger.WithField("path", s.path).Info("provider seed reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.WithError(err).Warn("provider seed watcher error")
		case <-s.done:
			return
		}
	}
}

func (s *YAMLStore) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", s.path, err)
	}

	now := time.Now().UTC()
	stores := make(map[string]*StoreRecord, len(file.Stores))
	providers := make(map[string]map[string]*ProviderRecord, len(file.Stores))

	for _, ys := range file.Stores {
		if ys.ID == "" {
			return fmt.Errorf("store entry missing id in %s", s.path)
		}
		stores[ys.ID] = &StoreRecord{
			ID:      ys.ID,
			Domain:  ys.Domain,
			Enabled: ys.Enabled == nil || *ys.Enabled,
		}
		byID := make(map[string]*ProviderRecord, len(ys.Providers))
		for _, yp := range ys.Providers {
			if yp.ID == "" || yp.Kind == "" {
				return fmt.Errorf("provider entry missing id or kind under store %s", ys.ID)
			}
			byID[yp.ID] = &ProviderRecord{
				StoreID:    ys.ID,
				ProviderID: yp.ID,
				Enabled:    yp.Enabled == nil || *yp.Enabled,
				Config: &provider.Config{
					Kind:                 yp.Kind,
					Protocol:             provider.Protocol(yp.Protocol),
					ClientID:             yp.ClientID,
					ClientSecret:         yp.ClientSecret,
					IssuerURL:            yp.IssuerURL,
					Scopes:               yp.Scopes,
					EntryPoint:           yp.EntryPoint,
					Issuer:               yp.Issuer,
					Certificate:          yp.Certificate,
					PrivateKey:           yp.PrivateKey,
					SignRequests:         yp.SignRequests,
					WantAssertionsSigned: yp.WantAssertionsSigned,
					AttributeMapping:     yp.AttributeMapping,
					UpdatedAt:            now,
				},
				CreatedAt: now,
				UpdatedAt: now,
			}
		}
		providers[ys.ID] = byID
	}

	s.mu.Lock()
	s.stores = stores
	s.providers = providers
	s.mu.Unlock()
	return nil
}

// Close stops the file watcher.
func (s *YAMLStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// GetStore returns one tenant from the current snapshot.
func (s *YAMLStore) GetStore(_ context.Context, storeID string) (*StoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.stores[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}
	out := *rec
	return &out, nil
}

// GetProvider returns one provider from the current snapshot.
func (s *YAMLStore) GetProvider(_ context.Context, storeID, providerID string) (*ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.providers[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}
	rec, ok := byID[providerID]
	if !ok {
		return nil, ErrProviderNotFound
	}
	out := *rec
	return &out, nil
}

// ListProviders returns the store's enabled providers ordered by ID.
func (s *YAMLStore) ListProviders(_ context.Context, storeID string) ([]*ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID, ok := s.providers[storeID]
	if !ok {
		return nil, ErrStoreNotFound
	}
	records := make([]*ProviderRecord, 0, len(byID))
	for _, rec := range byID {
		if !rec.Enabled {
			continue
		}
		out := *rec
		records = append(records, &out)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ProviderID < records[j].ProviderID })
	return records, nil
}

// UpsertProvider writes into the snapshot. The change does not survive a
// reload of the seed file.
func (s *YAMLStore) UpsertProvider(_ context.Context, rec *ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.providers[rec.StoreID]
	if !ok {
		return ErrStoreNotFound
	}
	now := time.Now().UTC()
	out := *rec
	out.UpdatedAt = now
	if existing, ok := byID[rec.ProviderID]; ok {
		out.CreatedAt = existing.CreatedAt
	} else {
		out.CreatedAt = now
	}
	if out.Config != nil {
		cfg := *out.Config
		cfg.UpdatedAt = now
		out.Config = &cfg
	}
	byID[rec.ProviderID] = &out
	return nil
}

// DeleteProvider removes a provider from the snapshot.
func (s *YAMLStore) DeleteProvider(_ context.Context, storeID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byID, ok := s.providers[storeID]
	if !ok {
		return ErrStoreNotFound
	}
	if _, ok := byID[providerID]; !ok {
		return ErrProviderNotFound
	}
	delete(byID, providerID)
	return nil
}
