package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"schedform/internal/app"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "schedform: %s\n", err.Error())
		os.Exit(1)
	}
}

type globals struct {
	configPath string
	baseURL    string
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	g := &globals{}
	flags := []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to a JSON or YAML config file (defaults apply when empty)",
			EnvVar:      "SCHEDFORM_CONFIG",
			Destination: &g.configPath,
		},
		cli.StringFlag{
			Name:        "base-url, u",
			Usage:       "schedule API base URL, overrides api.base_url",
			EnvVar:      "SCHEDFORM_BASE_URL",
			Destination: &g.baseURL,
		},
	}

	shell := func(c *cli.Context) error { return runShell(ctx, g, in, out) }

	cliApp := cli.App{
		Name:      "schedform",
		HelpName:  "schedform",
		Usage:     "edit broadcast schedules against the schedule API",
		UsageText: "schedform [global options] [command]",
		Version:   version,
		Writer:    out,
		Flags:     flags,
		Action:    shell,
		Commands: []cli.Command{
			{
				Name:   "shell",
				Usage:  "interactive editor (default)",
				Action: shell,
			},
			{
				Name:    "show",
				Aliases: []string{"ls"},
				Usage:   "load and print the remote schedules",
				Action: func(c *cli.Context) error {
					return runOnce(ctx, g, in, out, func(a *app.App) error {
						a.Print()
						return nil
					})
				},
			},
			{
				Name:  "check",
				Usage: "load and validate the remote schedules",
				Action: func(c *cli.Context) error {
					return runOnce(ctx, g, in, out, func(a *app.App) error {
						if !a.Controller().Validate() {
							return cli.NewExitError("schedules are incomplete", 2)
						}
						fmt.Fprintf(out, "%d schedules OK\n", len(a.Controller().Snapshot()))
						return nil
					})
				},
			},
		},
	}
	return cliApp.Run(args)
}

func newApp(g *globals, in io.Reader, out io.Writer) (*app.App, error) {
	return app.NewApp(app.Options{
		ConfigPath: g.configPath,
		BaseURL:    g.baseURL,
		In:         in,
		Out:        out,
	})
}

// runOnce loads the collection, hands the app to fn and stops.
func runOnce(ctx context.Context, g *globals, in io.Reader, out io.Writer, fn func(*app.App) error) error {
	a, err := newApp(g, in, out)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}
	defer stop(a, app.StopCommandDone)

	if err := a.Load(ctx); err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	return fn(a)
}

func runShell(ctx context.Context, g *globals, in io.Reader, out io.Writer) error {
	a, err := newApp(g, in, out)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	// an unreachable API still opens the editor on an empty collection
	_ = a.Load(ctx)

	err = a.RunShell(ctx)

	reason := app.StopShellExit
	switch {
	case a.Err() != nil:
		reason = app.StopFatalError
		if err == nil {
			err = a.Err()
		}
	case ctx.Err() != nil:
		reason = app.StopSIGINT
	}
	stop(a, reason)
	return err
}

func stop(a *app.App, reason app.StopReason) {
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	_ = a.Stop(ctx, reason)
}
