package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/guseggert/subproc/process"
)

func main() {
	app := &cli.App{
		Name:      "procrun",
		Usage:     "run a command with timeouts, streaming its output",
		ArgsUsage: "command [args...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Wall-clock limit on the whole run (0 disables).",
			},
			&cli.DurationFlag{
				Name:  "idle-timeout",
				Usage: "Limit on silence since the last output byte (0 disables).",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Working directory for the command.",
			},
			&cli.StringSliceFlag{
				Name:  "env",
				Usage: "Extra environment entries as NAME=value (repeatable).",
			},
			&cli.StringFlag{
				Name:  "input",
				Usage: "String fed to the command's stdin.",
			},
			&cli.BoolFlag{
				Name:  "tty",
				Usage: "Connect the command to the controlling terminal.",
			},
			&cli.BoolFlag{
				Name:  "pty",
				Usage: "Run the command on a pseudo-terminal.",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Discard the command's output.",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable engine debug logging.",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.Exit("no command given", 2)
	}

	opts := []process.Option{
		process.WithTimeout(ctx.Duration("timeout")),
		process.WithCwd(ctx.String("dir")),
	}
	if d := ctx.Duration("idle-timeout"); d > 0 {
		opts = append(opts, process.WithIdleTimeout(d))
	}
	if env := ctx.StringSlice("env"); len(env) > 0 {
		entries := make(map[string]string, len(env))
		for _, kv := range env {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return cli.Exit(fmt.Sprintf("malformed env entry %q", kv), 2)
			}
			entries[k] = v
		}
		opts = append(opts, process.WithEnv(entries))
	}
	if in := ctx.String("input"); in != "" {
		opts = append(opts, process.WithInput(in))
	}
	if ctx.Bool("tty") {
		opts = append(opts, process.WithTTY(true))
	}
	if ctx.Bool("pty") {
		opts = append(opts, process.WithPty(true))
	}
	if ctx.Bool("verbose") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		opts = append(opts, process.WithLogger(logger))
	}

	proc, err := process.Command(ctx.Args().Slice(), opts...)
	if err != nil {
		return fmt.Errorf("building process: %w", err)
	}
	quiet := ctx.Bool("quiet")
	if quiet {
		if err := proc.DisableOutput(); err != nil {
			return fmt.Errorf("disabling output: %w", err)
		}
	}

	var cb process.Callback
	if !quiet {
		cb = func(stream string, data []byte) {
			if stream == process.Out {
				os.Stdout.Write(data)
			} else {
				os.Stderr.Write(data)
			}
		}
	}

	code, err := proc.Run(cb)
	var timedOut *process.TimedOutError
	if errors.As(err, &timedOut) {
		fmt.Fprintln(os.Stderr, timedOut.Error())
		return cli.Exit("", 124)
	}
	if err != nil {
		return err
	}
	if code != 0 {
		return cli.Exit("", code)
	}
	return nil
}
