package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"gatekeeper/internal/config"
	"gatekeeper/internal/logger"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/storage"
	"gatekeeper/internal/version"
)

const commandTimeout = 30 * time.Second

// CLI defines the command-line interface.
type CLI struct {
	Config   string `short:"c" help:"Path to configuration file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`

	Migrate  MigrateCmd  `cmd:"" help:"Apply counter store schema migrations."`
	Policies PoliciesCmd `cmd:"" help:"List the rate limit policies."`
	Inspect  InspectCmd  `cmd:"" help:"Show the stored counter for a token."`
	Reset    ResetCmd    `cmd:"" help:"Clear the counter for a token."`
	Prune    PruneCmd    `cmd:"" help:"Delete counters whose window is long over."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
}

// AfterApply installs the stderr logger before any command runs.
func (c *CLI) AfterApply() error {
	log, _, err := logger.Setup(models.LoggingConfig{
		Level:  c.LogLevel,
		Format: "text",
		Output: "stderr",
	}, version.GetInfo())
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	return nil
}

func (c *CLI) load() (*models.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// openLimiter connects to the configured store. The caller closes the store.
func (c *CLI) openLimiter() (*ratelimit.Limiter, storage.CounterStore, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	// Operator commands must not pretend to succeed against a store that is down.
	cfg.Storage.RequireReachable = true
	if cfg.Storage.Type == models.StorageTypeMemory {
		slog.Warn("Memory counter store is private to this process; nothing persistent to operate on")
	}

	store, err := storage.NewFactory().Create(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s counter store: %w", cfg.Storage.Type, err)
	}
	limiter, err := ratelimit.New(store, ratelimit.WithStoreTimeout(cfg.RateLimit.StoreTimeout))
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return limiter, store, nil
}

// MigrateCmd applies the embedded schema migrations.
type MigrateCmd struct{}

func (m *MigrateCmd) Run(cli *CLI, out io.Writer) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cfg.Storage.Type {
	case models.StorageTypePostgres, models.StorageTypeSQLite:
	default:
		fmt.Fprintf(out, "%s counter store has no schema to migrate\n", cfg.Storage.Type)
		return nil
	}

	v, err := storage.MigrateDSN(ctx, cfg.Storage.Type, cfg.Storage.Database.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s schema at version %d\n", cfg.Storage.Type, v)
	return nil
}

// PoliciesCmd lists the compiled-in policies.
type PoliciesCmd struct {
	JSON bool `help:"Print JSON instead of a table."`
}

func (p *PoliciesCmd) Run(out io.Writer) error {
	policies := ratelimit.Policies()
	if p.JSON {
		infos := make([]models.PolicyInfo, 0, len(policies))
		for _, pol := range policies {
			infos = append(infos, models.PolicyInfo{
				Action:        string(pol.Action),
				Limit:         pol.Limit,
				Window:        pol.Window.String(),
				WindowSeconds: int64(pol.Window.Seconds()),
			})
		}
		return writeJSON(out, models.ListPoliciesResponse{Policies: infos})
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tLIMIT\tWINDOW")
	for _, pol := range policies {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", pol.Action, pol.Limit, pol.Window)
	}
	return tw.Flush()
}

// InspectCmd prints one stored counter.
type InspectCmd struct {
	Action string `arg:"" help:"Action name, for example password_reset."`
	Token  string `arg:"" help:"Token as the application passes it; it is normalized the same way."`
	JSON   bool   `help:"Print JSON instead of text."`
}

func (i *InspectCmd) Run(cli *CLI, out io.Writer) error {
	policy, ok := ratelimit.LookupPolicy(ratelimit.Action(i.Action))
	if !ok {
		return fmt.Errorf("unknown action %q", i.Action)
	}

	limiter, store, err := cli.openLimiter()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	c, err := limiter.Inspect(ctx, policy.Action, i.Token)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(out, "no counter for %s\n", policy.Key(i.Token))
		return nil
	}
	if err != nil {
		return err
	}

	if i.JSON {
		return writeJSON(out, c)
	}

	now := time.Now()
	state := "active"
	if c.Expired(now, policy.Window) {
		state = "expired"
	} else if c.Count > policy.Limit {
		state = "blocked"
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "key\t%s\n", c.Key)
	fmt.Fprintf(tw, "count\t%d / %d\n", c.Count, policy.Limit)
	fmt.Fprintf(tw, "window_start\t%s\n", c.WindowStart.UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "reset_at\t%s\n", c.ResetAt(policy.Window).UTC().Format(time.RFC3339))
	fmt.Fprintf(tw, "state\t%s\n", state)
	return tw.Flush()
}

// ResetCmd clears one counter.
type ResetCmd struct {
	Action string `arg:"" help:"Action name."`
	Token  string `arg:"" help:"Token as the application passes it."`
}

func (r *ResetCmd) Run(cli *CLI, out io.Writer) error {
	policy, ok := ratelimit.LookupPolicy(ratelimit.Action(r.Action))
	if !ok {
		return fmt.Errorf("unknown action %q", r.Action)
	}

	limiter, store, err := cli.openLimiter()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := limiter.Reset(ctx, policy.Action, r.Token); err != nil {
		return err
	}
	fmt.Fprintf(out, "reset %s\n", policy.Key(r.Token))
	return nil
}

// PruneCmd deletes stale counters.
type PruneCmd struct {
	OlderThan time.Duration `help:"Delete counters whose window started more than this long ago." default:"720h"`
}

func (p *PruneCmd) Run(cli *CLI, out io.Writer) error {
	// A counter younger than the longest window may still be limiting someone.
	var longest time.Duration
	for _, pol := range ratelimit.Policies() {
		longest = max(longest, pol.Window)
	}
	if p.OlderThan < longest {
		return fmt.Errorf("--older-than must be at least %s, the longest policy window", longest)
	}

	_, store, err := cli.openLimiter()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	n, err := store.Prune(ctx, time.Now().Add(-p.OlderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pruned %d counters\n", n)
	return nil
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (v *VersionCmd) Run(out io.Writer) error {
	_, err := fmt.Fprintln(out, version.GetInfo().String())
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
