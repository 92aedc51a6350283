package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

// CLI 把 Migrator 的操作渲染成终端输出，供 `astrogeminibot migrate` 使用
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 默认输出到 stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput 替换输出目标
func (c *CLI) SetOutput(w io.Writer) { c.output = w }

// subcommand 一个迁移子命令；withArg 为 true 时需要一个整数参数
type subcommand struct {
	name    string
	withArg bool
	run     func(c *CLI, ctx context.Context, n int) error
}

var subcommands = []subcommand{
	{name: "up", run: (*CLI).up},
	{name: "down", run: (*CLI).down},
	{name: "down-all", run: (*CLI).downAll},
	{name: "steps", withArg: true, run: (*CLI).steps},
	{name: "force", withArg: true, run: (*CLI).force},
	{name: "status", run: (*CLI).status},
	{name: "version", run: (*CLI).version},
	{name: "info", run: (*CLI).info},
}

// Usage 列出全部子命令
var Usage = func() string {
	names := make([]string, len(subcommands))
	for i, s := range subcommands {
		names[i] = s.name
		if s.withArg {
			names[i] += " N"
		}
	}
	return "usage: migrate " + strings.Join(names, "|")
}()

// Run 执行 args[0] 指定的子命令
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migrate subcommand\n%s", Usage)
	}
	for _, sc := range subcommands {
		if sc.name != args[0] {
			continue
		}
		n := 0
		if sc.withArg {
			if len(args) < 2 {
				return fmt.Errorf("%s requires a number\n%s", sc.name, Usage)
			}
			v, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid %s argument %q: %w", sc.name, args[1], err)
			}
			n = v
		}
		return sc.run(c, ctx, n)
	}
	return fmt.Errorf("unknown migrate subcommand %q\n%s", args[0], Usage)
}

func (c *CLI) printf(format string, a ...any) { fmt.Fprintf(c.output, format, a...) }

// report 打印变更后的 schema 版本
func (c *CLI) report(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	c.printf("Ledger schema at version %d (%d/%d applied)\n",
		info.CurrentVersion, info.AppliedMigrations, info.TotalMigrations)
	return nil
}

func (c *CLI) up(ctx context.Context, _ int) error {
	c.printf("Applying pending ledger migrations...\n")
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.report(ctx)
}

func (c *CLI) down(ctx context.Context, _ int) error {
	c.printf("Rolling back the last ledger migration...\n")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.report(ctx)
}

func (c *CLI) downAll(ctx context.Context, _ int) error {
	c.printf("Rolling back every ledger migration...\n")
	if err := c.migrator.DownAll(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	c.printf("Ledger schema is empty.\n")
	return nil
}

func (c *CLI) steps(ctx context.Context, n int) error {
	if n == 0 {
		return fmt.Errorf("steps must not be 0")
	}
	if n > 0 {
		c.printf("Applying %d migration(s)...\n", n)
	} else {
		c.printf("Rolling back %d migration(s)...\n", -n)
	}
	if err := c.migrator.Steps(ctx, n); err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return c.report(ctx)
}

func (c *CLI) force(ctx context.Context, v int) error {
	if err := c.migrator.Force(ctx, v); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	c.printf("Version forced to %d; dirty flag cleared.\n", v)
	return nil
}

func (c *CLI) version(ctx context.Context, _ int) error {
	v, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	switch {
	case v == 0:
		c.printf("No migrations applied yet.\n")
	case dirty:
		c.printf("Current version: %d (dirty)\n", v)
	default:
		c.printf("Current version: %d\n", v)
	}
	return nil
}

func (c *CLI) status(ctx context.Context, _ int) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		c.printf("No migrations found.\n")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		state := "Pending"
		switch {
		case s.Dirty:
			state = "Dirty"
		case s.Applied:
			state = "Applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	c.printf("\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

func (c *CLI) info(ctx context.Context, _ int) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	w := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "Ledger migrations:")
	fmt.Fprintf(w, "  current version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(w, "  dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(w, "  total:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(w, "  applied:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(w, "  pending:\t%d\n", info.PendingMigrations)
	return w.Flush()
}
