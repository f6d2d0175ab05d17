package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI prints migrator results for the `council migrate` subcommands.
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI creates a CLI writing to stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, out: os.Stdout}
}

// SetOutput redirects CLI output
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// step 打印进度，执行 op，并回报当前版本
func (c *CLI) step(ctx context.Context, banner, failure string, op func(context.Context) error) error {
	fmt.Fprintln(c.out, banner)
	if err := op(ctx); err != nil {
		return fmt.Errorf("%s: %w", failure, err)
	}
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

func dirtySuffix(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}

// RunUp applies every pending migration
func (c *CLI) RunUp(ctx context.Context) error {
	return c.step(ctx, "Applying pending migrations...", "migrate up failed", c.migrator.Up)
}

// RunDown rolls back one migration
func (c *CLI) RunDown(ctx context.Context) error {
	return c.step(ctx, "Rolling back last migration...", "migrate down failed", c.migrator.Down)
}

// RunDownAll rolls back everything
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.step(ctx, "Rolling back all migrations...", "migrate down failed", c.migrator.DownAll)
}

// RunSteps applies (n>0) or rolls back (n<0) n migrations
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	banner := fmt.Sprintf("Applying %d migration(s)...", n)
	if n < 0 {
		banner = fmt.Sprintf("Rolling back %d migration(s)...", -n)
	}
	return c.step(ctx, banner, "migrate steps failed", func(ctx context.Context) error {
		return c.migrator.Steps(ctx, n)
	})
}

// RunGoto migrates to version
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.step(ctx, fmt.Sprintf("Migrating to version %d...", version), "migrate goto failed",
		func(ctx context.Context) error { return c.migrator.Goto(ctx, version) })
}

// RunForce 仅改写版本号，用于清理 dirty 状态
func (c *CLI) RunForce(ctx context.Context, version int) error {
	return c.step(ctx, fmt.Sprintf("Forcing version to %d...", version), "migrate force failed",
		func(ctx context.Context) error { return c.migrator.Force(ctx, version) })
}

// RunVersion prints the current schema version
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if version == 0 {
		fmt.Fprintln(c.out, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.out, "Schema version: %d%s\n", version, dirtySuffix(dirty))
	return nil
}

// RunStatus prints one row per migration followed by a summary
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	applied := 0
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		if s.Applied {
			applied++
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", applied, len(statuses)-applied)
	return nil
}

// RunInfo prints the migration summary
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "current version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "total:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(w, "applied:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(w, "pending:\t%d\n", info.PendingMigrations)
	return w.Flush()
}
