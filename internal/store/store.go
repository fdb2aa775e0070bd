package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mfeld/parcelwatch/internal/model"
)

// snapshotVersion is the durable layout version. Bump on any change to
// the Package schema.
const snapshotVersion = 1

// snapshot is the durable record layout: the whole package map in one
// versioned envelope.
type snapshot struct {
	Version  int                      `json:"version"`
	Packages map[string]model.Package `json:"packages"`
}

// Backend persists the serialized snapshot blob. Load returns nil
// bytes when nothing was stored yet.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Close() error
}

// PackageStore holds the tracked packages of one account and applies
// the forward-only merge rules. It is not safe for concurrent use; the
// coordinator serializes access.
type PackageStore struct {
	backend  Backend
	logger   *slog.Logger
	packages map[string]model.Package
	now      func() time.Time
}

// New creates an empty store over the given backend. A nil logger
// falls back to slog.Default.
func New(backend Backend, logger *slog.Logger) *PackageStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PackageStore{
		backend:  backend,
		logger:   logger,
		packages: make(map[string]model.Package),
		now:      time.Now,
	}
}

// Load replaces the in-memory map with the stored snapshot. A missing,
// malformed, or incompatible snapshot yields an empty store, never an
// error; only backend I/O failures propagate.
func (s *PackageStore) Load(ctx context.Context) error {
	blob, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading package snapshot: %w", err)
	}

	s.packages = make(map[string]model.Package)
	if len(blob) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		s.logger.Warn("discarding malformed package snapshot", "error", err)
		return nil
	}
	if snap.Version != snapshotVersion {
		s.logger.Warn("discarding package snapshot with unsupported version", "version", snap.Version)
		return nil
	}
	if snap.Packages != nil {
		s.packages = snap.Packages
	}

	s.logger.Debug("loaded packages", "count", len(s.packages))
	return nil
}

// Save writes the whole map to the backend. Callers invoke it after
// structural changes; the store never persists incrementally.
func (s *PackageStore) Save(ctx context.Context) error {
	blob, err := json.Marshal(snapshot{Version: snapshotVersion, Packages: s.packages})
	if err != nil {
		return fmt.Errorf("encoding package snapshot: %w", err)
	}
	if err := s.backend.Save(ctx, blob); err != nil {
		return fmt.Errorf("saving package snapshot: %w", err)
	}
	return nil
}

// Merge folds facts into the store and returns the order numbers that
// actually changed. New orders are inserted verbatim. Existing orders
// advance status only forward, fill optional fields only when absent,
// and always take the newer last-updated timestamp. Facts without an
// order number are skipped.
func (s *PackageStore) Merge(facts []model.Package) []string {
	var changed []string
	for _, fact := range facts {
		if fact.OrderNumber == "" {
			continue
		}

		existing, ok := s.packages[fact.OrderNumber]
		if !ok {
			s.packages[fact.OrderNumber] = fact
			changed = append(changed, fact.OrderNumber)
			continue
		}

		updated := false
		if fact.Status.Priority() > existing.Status.Priority() {
			existing.Status = fact.Status
			updated = true
		}
		if fact.Carrier != "" && existing.Carrier == "" {
			existing.Carrier = fact.Carrier
			updated = true
		}
		if fact.TrackingNumber != "" && existing.TrackingNumber == "" {
			existing.TrackingNumber = fact.TrackingNumber
			updated = true
		}
		if fact.EstimatedDelivery != "" && existing.EstimatedDelivery == "" {
			existing.EstimatedDelivery = fact.EstimatedDelivery
			updated = true
		}
		if fact.ProductName != "" && existing.ProductName == "" {
			existing.ProductName = fact.ProductName
			updated = true
		}
		if !fact.LastUpdated.IsZero() {
			existing.LastUpdated = fact.LastUpdated
			updated = true
		}

		if updated {
			s.packages[fact.OrderNumber] = existing
			changed = append(changed, fact.OrderNumber)
		}
	}
	return changed
}

// ActivePackages returns the display snapshot: packages updated within
// trackingDays, with delivered packages additionally gated by
// showDelivered and limited to deliveredDays.
func (s *PackageStore) ActivePackages(trackingDays int, showDelivered bool, deliveredDays int) map[string]model.Package {
	now := s.now()
	active := make(map[string]model.Package)
	for orderNumber, pkg := range s.packages {
		age := packageAge(pkg, now)
		if age > days(trackingDays) {
			continue
		}
		if pkg.Status == model.StatusDelivered {
			if !showDelivered {
				continue
			}
			if age > days(deliveredDays) {
				continue
			}
		}
		active[orderNumber] = pkg
	}
	return active
}

// CleanupOld deletes every package older than maxAgeDays regardless of
// status and returns how many were removed. This retention sweep is
// coarser than the display filter and runs on its own cycle.
func (s *PackageStore) CleanupOld(maxAgeDays int) int {
	now := s.now()
	removed := 0
	for orderNumber, pkg := range s.packages {
		if packageAge(pkg, now) > days(maxAgeDays) {
			delete(s.packages, orderNumber)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("removed expired packages", "count", removed)
	}
	return removed
}

// Packages returns a copy of every stored package keyed by order
// number.
func (s *PackageStore) Packages() map[string]model.Package {
	packages := make(map[string]model.Package, len(s.packages))
	for orderNumber, pkg := range s.packages {
		packages[orderNumber] = pkg
	}
	return packages
}

// Len returns the number of stored packages.
func (s *PackageStore) Len() int {
	return len(s.packages)
}

// packageAge is the time since the package's last update. A zero
// timestamp reports age zero, so such packages are never evicted.
func packageAge(pkg model.Package, now time.Time) time.Duration {
	if pkg.LastUpdated.IsZero() {
		return 0
	}
	return now.Sub(pkg.LastUpdated)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
