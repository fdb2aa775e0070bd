package imapsession

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/mfeld/parcelwatch/internal/amazon"
	"github.com/mfeld/parcelwatch/internal/model"
)

const (
	// idleTimeout bounds each IDLE wait; servers commonly drop idle
	// connections at 30 minutes.
	idleTimeout = 29 * time.Minute

	// initialBackoff and maxBackoff bound the reconnect delay, which
	// doubles on each consecutive failure.
	initialBackoff = 30 * time.Second
	maxBackoff     = 10 * time.Minute

	// pushFetchLimit caps how many recent messages a push notification
	// re-examines.
	pushFetchLimit = 10
)

// Config holds the connection settings for one watched mailbox.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLS selects implicit TLS; false upgrades via STARTTLS.
	TLS bool

	// Folder is the mailbox folder to watch, INBOX when empty.
	Folder string

	// Marketplaces selects which notification senders are searched.
	Marketplaces []string
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session owns the live IMAP connection for one account: backlog
// scans, the IDLE push loop, and reconnection with backoff. A Session
// is single-owner: Connect, FetchExisting, Run, and Disconnect must not
// run concurrently, and an absent connection handle is the one signal
// that a reconnect is due. Refresh is the only method safe to call
// from other goroutines.
type Session struct {
	cfg     Config
	senders []string
	parser  *amazon.Parser
	handler func([]model.Package)
	logger  *slog.Logger

	client  *imapclient.Client
	backoff time.Duration
	newMail chan struct{}
	refresh chan struct{}
}

// New creates a session for the given mailbox. The handler receives
// newly parsed facts from the push loop and must not block it
// indefinitely. A nil logger falls back to slog.Default.
func New(cfg Config, parser *amazon.Parser, handler func([]model.Package), logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Session{
		cfg:     cfg,
		senders: amazon.Senders(cfg.Marketplaces),
		parser:  parser,
		handler: handler,
		logger:  logger,
		backoff: initialBackoff,
		newMail: make(chan struct{}, 1),
		refresh: make(chan struct{}, 1),
	}
}

func dial(cfg Config, options *imapclient.Options) (*imapclient.Client, error) {
	if cfg.TLS {
		return imapclient.DialTLS(cfg.addr(), options)
	}
	return imapclient.DialStartTLS(cfg.addr(), options)
}

// Connect opens the transport, authenticates, and selects the watched
// folder. Success resets the reconnect backoff to its initial value.
func (s *Session) Connect(ctx context.Context) error {
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: s.handleMailboxUpdate,
		},
	}

	client, err := dial(s.cfg, options)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.addr(), err)
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return &AuthError{Account: s.cfg.Username, Message: err.Error()}
	}

	if _, err := client.Select(s.cfg.Folder, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return fmt.Errorf("selecting folder %q: %w", s.cfg.Folder, err)
	}

	s.client = client
	s.backoff = initialBackoff
	s.logger.Info("connected to IMAP server", "host", s.cfg.Host, "folder", s.cfg.Folder)
	return nil
}

// handleMailboxUpdate runs on the client's reader goroutine whenever
// the server pushes a mailbox update during IDLE. Only message-count
// changes signal new mail.
func (s *Session) handleMailboxUpdate(data *imapclient.UnilateralDataMailbox) {
	if data.NumMessages == nil {
		return
	}
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

// Run drives the push loop until ctx is cancelled: IDLE waits bounded
// by idleTimeout, a narrow re-search on each push or refresh nudge, and
// reconnection with doubling backoff after I/O failures. Newly parsed
// facts go to the handler.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if s.client == nil {
			if err := s.waitReconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("reconnect failed", "host", s.cfg.Host, "error", err, "next_delay", s.backoff)
			}
			continue
		}

		notified, err := s.idleWait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("idle interrupted", "error", err)
			s.dropConnection()
			continue
		}
		if !notified {
			continue
		}

		pkgs, err := s.fetchRecent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("fetching new messages failed", "error", err)
			s.dropConnection()
			continue
		}
		if len(pkgs) > 0 && s.handler != nil {
			s.handler(pkgs)
		}
	}
}

// idleWait holds one IDLE session until a push notification, a refresh
// nudge, the idle timeout, or cancellation. It reports whether recent
// mail should be re-examined.
func (s *Session) idleWait(ctx context.Context) (bool, error) {
	idle, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("starting idle: %w", err)
	}

	notified := false
	select {
	case <-ctx.Done():
	case <-s.newMail:
		notified = true
	case <-s.refresh:
		notified = true
	case <-time.After(idleTimeout):
	}

	if err := idle.Close(); err != nil {
		return false, fmt.Errorf("ending idle: %w", err)
	}
	if err := idle.Wait(); err != nil {
		return false, fmt.Errorf("idle: %w", err)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return notified, nil
}

// waitReconnect sleeps the current backoff then attempts a connect,
// doubling the backoff up to maxBackoff when the attempt fails.
func (s *Session) waitReconnect(ctx context.Context) error {
	s.logger.Info("reconnecting", "host", s.cfg.Host, "delay", s.backoff)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.backoff):
	}

	if err := s.Connect(ctx); err != nil {
		s.backoff = nextBackoff(s.backoff)
		return err
	}
	return nil
}

// nextBackoff doubles d, capped at maxBackoff.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// FetchExisting scans the folder for tracked notifications from the
// last sinceDays days and returns the parsed facts, skipping rejects
// silently. A disconnected session returns nothing.
func (s *Session) FetchExisting(ctx context.Context, sinceDays int) ([]model.Package, error) {
	if s.client == nil {
		s.logger.Debug("backlog scan skipped, not connected")
		return nil, nil
	}
	since := time.Now().AddDate(0, 0, -sinceDays)
	return s.search(ctx, since, 0)
}

// fetchRecent re-examines only the newest matches since yesterday,
// keeping push handling cheap.
func (s *Session) fetchRecent(ctx context.Context) ([]model.Package, error) {
	if s.client == nil {
		return nil, nil
	}
	since := time.Now().AddDate(0, 0, -1)
	return s.search(ctx, since, pushFetchLimit)
}

// search runs the sender/date filter, fetches the matches (bounded to
// the newest limit when limit > 0), and parses each message.
func (s *Session) search(ctx context.Context, since time.Time, limit int) ([]model.Package, error) {
	criteria := searchCriteria(s.senders, since)
	s.logger.Debug("searching mailbox", "query", formatSearchCriteria(s.senders, since))

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching mailbox: %w", err)
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	return s.fetchAndParse(ctx, uids)
}

// fetchAndParse downloads the full message bodies for uids and runs
// each through the parser. Messages are fetched with PEEK so scanning
// never marks mail as read.
func (s *Session) fetchAndParse(_ context.Context, uids []imap.UID) ([]model.Package, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var pkgs []model.Package
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		raw := buf.FindBodySection(bodySection)
		if len(raw) == 0 {
			continue
		}
		if pkg := s.parser.Parse(raw); pkg != nil {
			pkgs = append(pkgs, *pkg)
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return pkgs, fmt.Errorf("fetching messages: %w", err)
	}
	return pkgs, nil
}

// Refresh nudges the push loop to end its current IDLE early and
// re-examine recent mail. Non-blocking; one pending nudge is enough.
func (s *Session) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Disconnect logs out and releases the connection handle. Safe to call
// when already disconnected.
func (s *Session) Disconnect() {
	if s.client == nil {
		return
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Debug("logout failed", "error", err)
	}
	_ = s.client.Close()
	s.client = nil
	s.logger.Debug("disconnected from IMAP server")
}

// dropConnection discards a broken connection so the run loop
// reconnects.
func (s *Session) dropConnection() {
	if s.client == nil {
		return
	}
	_ = s.client.Close()
	s.client = nil
}

// TestConnection verifies that the configured mailbox is reachable and
// the credentials are accepted, with no side effects on the mailbox.
// Expected failures (unreachable server, rejected login, missing
// folder) resolve to false and are logged at debug level.
func TestConnection(cfg Config, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}

	client, err := dial(cfg, nil)
	if err != nil {
		logger.Debug("connection test: dial failed", "host", cfg.Host, "error", err)
		return false
	}
	defer client.Close()

	if err := client.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		logger.Debug("connection test: login rejected", "username", cfg.Username, "error", err)
		return false
	}
	if _, err := client.Select(cfg.Folder, nil).Wait(); err != nil {
		logger.Debug("connection test: folder unavailable", "folder", cfg.Folder, "error", err)
		_ = client.Logout().Wait()
		return false
	}

	_ = client.Logout().Wait()
	return true
}
