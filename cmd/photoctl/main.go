// Command photoctl runs maintenance tasks against the photostudio database.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Proton-105/photostudio/pkg/config"
	"github.com/Proton-105/photostudio/pkg/logger"
)

var errUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := pflag.NewFlagSet("photoctl", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", "", "path to a YAML config file (default ./configs/$APP_ENV.yaml)")
	verbose := global.BoolP("verbose", "v", false, "log at debug level")
	global.Usage = func() { usage(stderr, global) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage(stderr, global)
		return 2
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "photoctl: unknown command %q\n\n", rest[0])
		usage(stderr, global)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "photoctl: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Logger.Level = "debug"
	}
	// one-off runs never write the rotating log file
	cfg.Logger.File = ""
	log, _ := logger.New(cfg.Logger, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := connect(ctx, cfg, log, stdout)
	if err != nil {
		log.Error("photoctl: connect failed", slog.Any("error", err))
		return 1
	}
	defer env.close()

	if err := cmd.run(ctx, env, rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "usage: photoctl %s %s\n", rest[0], cmd.usage)
			return 2
		}
		log.Error("photoctl: command failed", slog.String("command", rest[0]), slog.Any("error", err))
		return 1
	}
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg, _, err := config.Load()
		return cfg, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	cfg, _, err := config.LoadFile(path, env)
	return cfg, err
}

func usage(w io.Writer, flags *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: photoctl [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "flags:")
	fmt.Fprint(w, flags.FlagUsages())
}
