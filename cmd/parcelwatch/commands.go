package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mfeld/parcelwatch/internal/amazon"
	"github.com/mfeld/parcelwatch/internal/credential"
	"github.com/mfeld/parcelwatch/internal/imapsession"
	"github.com/mfeld/parcelwatch/internal/model"
	"github.com/mfeld/parcelwatch/internal/store"
	"github.com/mfeld/parcelwatch/internal/tracker"
)

// loadAppConfig resolves the config path and loads the configuration.
func loadAppConfig() (*model.AppConfig, string, error) {
	path := configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openBackend opens the snapshot database scoped to one account,
// creating the data directory on first use.
func openBackend(acct model.AccountConfig) (*store.SQLiteBackend, error) {
	dataPath := model.DefaultDataPath()
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return store.NewSQLiteBackend(dataPath, acct.ID)
}

// sessionConfig maps an account's settings plus its keyring password
// onto the session configuration.
func sessionConfig(acct model.AccountConfig, password string) imapsession.Config {
	return imapsession.Config{
		Host:         acct.IMAP.Host,
		Port:         acct.IMAP.Port,
		Username:     acct.IMAP.Username,
		Password:     password,
		TLS:          acct.IMAP.TLS,
		Folder:       acct.IMAP.Folder,
		Marketplaces: acct.Marketplaces,
	}
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch configured mailboxes and track packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTracker()
	},
}

func runTracker() error {
	cfg, _, err := loadAppConfig()
	if err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		printWarning("No accounts configured. Run 'parcelwatch setup' first.")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, acct := range cfg.Accounts {
		coord, backend, err := buildPipeline(acct, cfg.Display)
		if err != nil {
			return err
		}
		defer backend.Close()
		g.Go(func() error {
			return coord.Run(ctx)
		})
	}

	slog.Info("parcelwatch running", "version", version, "accounts", len(cfg.Accounts))
	return g.Wait()
}

// buildPipeline wires store, parser, session, and coordinator for one
// account. The caller owns the returned backend's lifetime.
func buildPipeline(acct model.AccountConfig, display model.DisplayConfig) (*tracker.Coordinator, *store.SQLiteBackend, error) {
	password, err := credential.IMAPPassword(acct.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("no stored password for account %q (run 'parcelwatch setup'): %w", acct.Name, err)
	}

	backend, err := openBackend(acct)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.Default().With("account", acct.Name)
	st := store.New(backend, logger)
	coord := tracker.New(st, display, logger)

	parser := amazon.NewParser(acct.Marketplaces, logger)
	sess := imapsession.New(sessionConfig(acct, password), parser, coord.HandleNewPackages, logger)
	coord.AttachSession(sess)

	coord.Subscribe(func(pkgs map[string]model.Package) {
		logger.Info("tracking view updated", "packages", len(pkgs))
	})

	return coord, backend, nil
}

// --- setup ---

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Add a mailbox account interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup()
	},
}

func runSetup() error {
	cfg, path, err := loadAppConfig()
	if err != nil {
		return err
	}

	var (
		name     = "Amazon"
		host     string
		port     = "993"
		username string
		password string
		useTLS   = true
		markets  = []string{amazon.DefaultMarketplace}
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("A label for this account").
				Placeholder("Personal").
				Value(&name).
				Validate(validateRequired("Name")),
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Placeholder("993").
				Value(&port).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Mailbox login, usually the address itself").
				Placeholder("user@example.com").
				Value(&username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Mailbox password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(validateRequired("Password")),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS on connect; STARTTLS otherwise").
				Affirmative("Yes").
				Negative("No").
				Value(&useTLS),
			huh.NewMultiSelect[string]().
				Title("Marketplaces").
				Description("Amazon sites whose order mail arrives in this mailbox").
				Options(marketplaceOptions()...).
				Value(&markets),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	portNum, _ := strconv.Atoi(strings.TrimSpace(port))

	acct := model.AccountConfig{
		ID:   uuid.NewString(),
		Name: name,
		IMAP: model.IMAPConfig{
			Host:     host,
			Port:     portNum,
			Username: username,
			TLS:      useTLS,
			Folder:   "INBOX",
		},
		Marketplaces: markets,
	}

	printStep("Validating connection to %s...", host)
	if !imapsession.TestConnection(sessionConfig(acct, password), slog.Default()) {
		return fmt.Errorf("could not connect to %s as %s", host, username)
	}

	if err := credential.SetIMAPPassword(acct.ID, password); err != nil {
		return fmt.Errorf("storing password: %w", err)
	}

	cfg.Accounts = append(cfg.Accounts, acct)
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}

	printSuccess("Account %q saved", name)
	return nil
}

// marketplaceOptions returns the selectable marketplaces in stable order.
func marketplaceOptions() []huh.Option[string] {
	keys := make([]string, 0, len(amazon.Marketplaces))
	for k := range amazon.Marketplaces {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]huh.Option[string], len(keys))
	for i, k := range keys {
		opts[i] = huh.NewOption(k, k)
	}
	return opts
}

// --- remove ---

var removeCmd = &cobra.Command{
	Use:   "remove <account>",
	Short: "Remove an account and its stored password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRemove(args[0])
	},
}

func runRemove(name string) error {
	cfg, path, err := loadAppConfig()
	if err != nil {
		return err
	}

	idx := -1
	for i, acct := range cfg.Accounts {
		if acct.Name == name || acct.ID == name {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("no account named %q", name)
	}
	acct := cfg.Accounts[idx]

	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Remove account %q?", acct.Name)).
				Description("Deletes the stored password from the keyring as well").
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if !confirmed {
		printWarning("Aborted, account %q kept", acct.Name)
		return nil
	}

	if err := credential.DeleteIMAPPassword(acct.ID); err != nil {
		// The config entry still goes away; a stale keyring item is
		// harmless and can be cleaned up manually.
		printWarning("Could not delete stored password: %v", err)
	}

	cfg.Accounts = append(cfg.Accounts[:idx], cfg.Accounts[idx+1:]...)
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}

	printSuccess("Account %q removed", acct.Name)
	return nil
}

// --- test ---

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Check the IMAP connection of every configured account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTest()
	},
}

func runTest() error {
	cfg, _, err := loadAppConfig()
	if err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		printWarning("No accounts configured. Run 'parcelwatch setup' first.")
		return nil
	}

	failed := 0
	for _, acct := range cfg.Accounts {
		printStatus(acct.Name, "%s@%s", acct.IMAP.Username, acct.IMAP.Host)

		password, err := credential.IMAPPassword(acct.ID)
		if err != nil {
			printError("%s: no stored password: %v", acct.Name, err)
			failed++
			continue
		}
		if !imapsession.TestConnection(sessionConfig(acct, password), slog.Default()) {
			printError("%s: connection failed", acct.Name)
			failed++
			continue
		}
		printSuccess("%s: connection ok", acct.Name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d accounts failed", failed, len(cfg.Accounts))
	}
	return nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the current package snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList()
	},
}

func runList() error {
	cfg, _, err := loadAppConfig()
	if err != nil {
		return err
	}
	if len(cfg.Accounts) == 0 {
		printWarning("No accounts configured. Run 'parcelwatch setup' first.")
		return nil
	}

	ctx := context.Background()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ORDER\tSTATUS\tCARRIER\tTRACKING\tDELIVERY\tPRODUCT")

	total := 0
	for _, acct := range cfg.Accounts {
		backend, err := openBackend(acct)
		if err != nil {
			return err
		}

		st := store.New(backend, slog.Default())
		if err := st.Load(ctx); err != nil {
			backend.Close()
			return err
		}
		pkgs := st.ActivePackages(cfg.Display.TrackingDays, cfg.Display.ShowDelivered, cfg.Display.DeliveredDays)
		backend.Close()

		for _, pkg := range sortByLastUpdate(pkgs) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				pkg.OrderNumber,
				pkg.Status,
				orDash(pkg.Carrier),
				orDash(pkg.TrackingNumber),
				orDash(pkg.EstimatedDelivery),
				truncate(orDash(pkg.ProductName), 40),
			)
			total++
		}
	}

	if total == 0 {
		fmt.Println("No packages tracked.")
		return nil
	}
	return w.Flush()
}

// sortByLastUpdate orders packages newest first, with the order number
// as tiebreaker so output stays stable.
func sortByLastUpdate(pkgs map[string]model.Package) []model.Package {
	out := make([]model.Package, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].OrderNumber < out[j].OrderNumber
	})
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("port is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("port must be a number")
		}
	}
	return nil
}
