package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashbert/nestor/internal/agent"
	"github.com/ashbert/nestor/internal/config"
	"github.com/ashbert/nestor/internal/settings"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "doctor":
		doctorCmd(os.Args[2:])
	case "prune":
		pruneCmd(os.Args[2:])
	case "secrets":
		secretsCmd(os.Args[2:])
	case "audit":
		auditCmd(os.Args[2:])
	case "version":
		fmt.Printf("nestor %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `nestor

Usage:
  nestor init [flags]
  nestor run [flags]
  nestor chat [flags]
  nestor doctor [flags]
  nestor prune [flags]
  nestor secrets set|clear|status [name] [flags]
  nestor audit [flags]
  nestor version

Commands:
  init        Write a starter config file.
  run         Converse over stdin/stdout, one message per line.
  chat        Open the interactive terminal chat.
  doctor      Check config, secrets and every configured backend.
  prune       Delete conversation history past retention and expired confirmations.
  secrets     Manage API keys and passwords in secrets.json.
  audit       Show recent confirmation and tool events.
  version     Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	provider := fs.String("provider", config.ProviderAnthropic, "Model provider: anthropic|openai")
	model := fs.String("model", "", "Model name (default depends on provider)")
	timezone := fs.String("timezone", "", "IANA timezone (default: UTC)")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	_ = fs.Parse(args)

	out, err := config.Bootstrap(config.BootstrapArgs{
		ConfigPath: *cfgPath,
		Provider:   *provider,
		Model:      *model,
		Timezone:   *timezone,
		Force:      *force,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}

	keyName, _ := settings.ProviderKeyName(*provider)
	fmt.Printf("Config written: %s\n", filepath.Clean(out))
	fmt.Printf("Next: nestor secrets set %s\n", keyName)
}

func doctorCmd(args []string) {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfg := mustLoadConfig(*cfgPath)
	checks := agent.Doctor(context.Background(), cfg, nil)
	for _, c := range checks {
		mark := "ok  "
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Printf("[%s] %-14s %s\n", mark, c.Name, c.Detail)
	}
	if !agent.Healthy(checks) {
		os.Exit(1)
	}
}

func pruneCmd(args []string) {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	days := fs.Int("days", 0, "Keep this many days of history (default: storage.retention_days)")
	timeout := fs.Duration("timeout", 30*time.Second, "Prune timeout")
	_ = fs.Parse(args)

	cfg := mustLoadConfig(*cfgPath)
	if *days > 0 {
		cfg.Storage.RetentionDays = *days
	}
	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	stats, err := agent.PruneOnce(ctx, cfg, nil, logger, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Pruned %d messages and %d pending confirmations.\n", stats.Messages, stats.Pending)
}

func mustLoadConfig(path string) *config.Config {
	cfg, err := config.Load(filepath.Clean(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
