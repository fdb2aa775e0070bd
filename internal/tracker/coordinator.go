// Package tracker ties the mail session and the package store together:
// it feeds parsed facts into the store, persists the result, and hands
// filtered snapshots to subscribers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mfeld/parcelwatch/internal/model"
	"github.com/mfeld/parcelwatch/internal/store"
)

// saveTimeout bounds a single snapshot write.
const saveTimeout = 10 * time.Second

// retentionDays is the hard upper bound on how long a package survives
// in the store, independent of the display window.
const retentionDays = 60

// pollInterval is the fallback cadence: even when the server never
// pushes, every interval forces the session out of IDLE and into a
// re-search.
const pollInterval = 30 * time.Minute

// sweepInterval is how often expired packages are purged.
const sweepInterval = 6 * time.Hour

// MailSession is the slice of the IMAP session the coordinator drives.
type MailSession interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context) error
	FetchExisting(ctx context.Context, sinceDays int) ([]model.Package, error)
	Refresh()
	Disconnect()
}

// Coordinator owns one account's tracking pipeline. All store access
// goes through its mutex; the store itself stays lock-free.
type Coordinator struct {
	store       *store.PackageStore
	session     MailSession
	display     model.DisplayConfig
	logger      *slog.Logger
	mu          sync.Mutex
	listeners   []func(map[string]model.Package)
	lastPublish time.Time
}

// New creates a Coordinator around the given store. Attach a session
// with AttachSession before calling Run.
func New(st *store.PackageStore, display model.DisplayConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:   st,
		display: display,
		logger:  logger,
	}
}

// AttachSession wires the mail session whose facts this coordinator
// consumes. The session's handler should be HandleNewPackages.
func (c *Coordinator) AttachSession(sess MailSession) {
	c.session = sess
}

// Subscribe registers a listener that receives the filtered package
// view after every change. Listeners run outside the coordinator lock.
func (c *Coordinator) Subscribe(fn func(map[string]model.Package)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// LastPublish returns when subscribers last received a snapshot.
func (c *Coordinator) LastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}

// HandleNewPackages merges parsed facts into the store, persists the
// snapshot when anything changed, and notifies subscribers. It is the
// session's delivery callback.
func (c *Coordinator) HandleNewPackages(pkgs []model.Package) {
	c.mu.Lock()
	changed := c.store.Merge(pkgs)
	if len(changed) == 0 {
		c.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	err := c.store.Save(ctx)
	cancel()
	if err != nil {
		c.logger.Error("saving package snapshot", "error", err)
	}
	c.logger.Info("package updates merged", "orders", changed)
	c.mu.Unlock()

	c.publish()
}

// Refresh forces the session out of IDLE so recent mail is re-examined
// before the next poll tick.
func (c *Coordinator) Refresh() {
	if c.session != nil {
		c.session.Refresh()
	}
}

// Run loads persisted state, scans the backlog, then drives the push
// loop alongside the maintenance tickers until ctx is cancelled. The
// final snapshot is saved on the way out.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.session == nil {
		return errors.New("no mail session attached")
	}

	// The session loop has not started yet, so the store is still
	// single-threaded here.
	if err := c.store.Load(ctx); err != nil {
		return fmt.Errorf("loading package store: %w", err)
	}
	if removed := c.store.CleanupOld(retentionDays); removed > 0 {
		if err := c.store.Save(ctx); err != nil {
			c.logger.Warn("saving store after cleanup", "error", err)
		}
	}

	if err := c.session.Connect(ctx); err != nil {
		// The session loop retries with backoff, so a failed first
		// connect only delays the backlog scan until reconnect.
		c.logger.Error("initial connect failed", "error", err)
	} else {
		backlog, err := c.session.FetchExisting(ctx, c.display.TrackingDays)
		if err != nil {
			c.logger.Warn("scanning existing messages", "error", err)
		}
		c.HandleNewPackages(backlog)
	}
	c.publish()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.session.Run(ctx)
	})
	g.Go(func() error {
		return c.maintenanceLoop(ctx)
	})
	err := g.Wait()

	c.session.Disconnect()
	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if saveErr := c.store.Save(saveCtx); saveErr != nil {
		c.logger.Warn("saving store on shutdown", "error", saveErr)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// maintenanceLoop runs the poll fallback and the retention sweep.
func (c *Coordinator) maintenanceLoop(ctx context.Context) error {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-poll.C:
			// Some servers drop IDLE silently. The nudge forces a
			// re-search even when no EXISTS ever arrived.
			c.session.Refresh()
		case <-sweep.C:
			c.sweep(ctx)
		}
	}
}

// sweep purges packages past the retention bound and persists the
// smaller snapshot.
func (c *Coordinator) sweep(ctx context.Context) {
	c.mu.Lock()
	removed := c.store.CleanupOld(retentionDays)
	if removed > 0 {
		saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
		if err := c.store.Save(saveCtx); err != nil {
			c.logger.Warn("saving store after cleanup", "error", err)
		}
		cancel()
	}
	c.mu.Unlock()

	if removed > 0 {
		c.publish()
	}
}

// publish snapshots the filtered view under the lock and delivers it
// to every listener outside of it.
func (c *Coordinator) publish() {
	c.mu.Lock()
	snapshot := c.store.ActivePackages(c.display.TrackingDays, c.display.ShowDelivered, c.display.DeliveredDays)
	listeners := make([]func(map[string]model.Package), len(c.listeners))
	copy(listeners, c.listeners)
	c.lastPublish = time.Now()
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
