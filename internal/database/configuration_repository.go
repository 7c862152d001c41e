package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/dbehnke/adsbfeed/internal/config"
)

// ConfigurationRepository stores the receivers, merged feeds and rebroadcast
// servers of a configuration. Logging, metrics and heartbeat settings always
// come from the configuration file.
type ConfigurationRepository struct {
	db *gorm.DB
}

// NewConfigurationRepository creates a new repository instance
func NewConfigurationRepository(db *gorm.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

// Save replaces the stored feeds with those of cfg in one transaction. The
// configuration is validated first.
func (r *ConfigurationRepository) Save(cfg *config.Configuration) error {
	if cfg == nil {
		return fmt.Errorf("configuration cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	now := time.Now()
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&ReceiverRecord{}, &MergedFeedRecord{}, &RebroadcastRecord{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return fmt.Errorf("clearing %T: %w", model, err)
			}
		}

		for _, rc := range cfg.Receivers {
			rec := newReceiverRecord(rc)
			rec.UpdatedAt = now
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("saving receiver %q: %w", rc.Name, err)
			}
		}
		for _, m := range cfg.MergedFeeds {
			rec := newMergedFeedRecord(m)
			rec.UpdatedAt = now
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("saving merged feed %q: %w", m.Name, err)
			}
		}
		for _, s := range cfg.Rebroadcast {
			rec := newRebroadcastRecord(s)
			rec.UpdatedAt = now
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("saving rebroadcast server %q: %w", s.Name, err)
			}
		}
		return nil
	})
}

// Load reads the stored feeds into a configuration populated with defaults
// and validates it
func (r *ConfigurationRepository) Load() (*config.Configuration, error) {
	var (
		receivers []ReceiverRecord
		merged    []MergedFeedRecord
		servers   []RebroadcastRecord
	)
	if err := r.db.Order("id ASC").Find(&receivers).Error; err != nil {
		return nil, fmt.Errorf("loading receivers: %w", err)
	}
	if err := r.db.Order("id ASC").Find(&merged).Error; err != nil {
		return nil, fmt.Errorf("loading merged feeds: %w", err)
	}
	if err := r.db.Order("name ASC").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("loading rebroadcast servers: %w", err)
	}

	cfg := config.New()
	for _, rec := range receivers {
		rc, err := rec.Receiver()
		if err != nil {
			return nil, err
		}
		cfg.Receivers = append(cfg.Receivers, rc)
	}
	for _, rec := range merged {
		m, err := rec.MergedFeed()
		if err != nil {
			return nil, err
		}
		cfg.MergedFeeds = append(cfg.MergedFeeds, m)
	}
	for _, rec := range servers {
		s, err := rec.RebroadcastServer()
		if err != nil {
			return nil, err
		}
		cfg.Rebroadcast = append(cfg.Rebroadcast, s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Empty reports whether no receivers have been stored
func (r *ConfigurationRepository) Empty() (bool, error) {
	var count int64
	if err := r.db.Model(&ReceiverRecord{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count == 0, nil
}

// HealthCheck verifies the repository is working correctly
func (r *ConfigurationRepository) HealthCheck() error {
	var count int64
	return r.db.Model(&ReceiverRecord{}).Count(&count).Error
}
