package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

//nolint:gochecknoglobals // set by -ldflags
var (
	version = "dev"
	cli     struct {
		Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API (and in-process workers unless disabled)"`
		Worker  WorkerCmd  `cmd:"" help:"Run command workers and the stale-command sweeper"`
		Migrate MigrateCmd `cmd:"" help:"Apply database migrations and exit"`
		Tenant  TenantCmd  `cmd:"" help:"Manage tenants"`
		User    UserCmd    `cmd:"" help:"Manage users"`
		Version kong.VersionFlag
	}
)

func main() {
	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := kong.Parse(&cli,
		kong.Name("domus"),
		kong.Description("Tenant-scoped smart-home command service."),
		kong.Vars{"version": version},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run()
	cmd.FatalIfErrorf(err)
}
