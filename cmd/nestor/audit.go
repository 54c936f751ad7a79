package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ashbert/nestor/internal/auditlog"
	"github.com/ashbert/nestor/internal/config"
)

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	limit := fs.Int("limit", 20, "Number of entries to show")
	userID := fs.Int64("user", 0, "Only show entries for this user id (0: all)")
	_ = fs.Parse(args)

	cfg := mustLoadConfig(*cfgPath)
	store, err := auditlog.New(auditlog.Options{StateDir: cfg.EffectiveStateDir()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open audit log: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	entries, err := store.List(*userID, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read audit log: %v\n", err)
		os.Exit(1)
	}
	printAudit(os.Stdout, entries)
}

func printAudit(w io.Writer, entries []auditlog.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No audit entries.")
		return
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  user=%d  %-22s %-7s", e.CreatedAt.Local().Format(time.DateTime), e.UserID, e.Action, e.Status)
		if len(e.Tools) > 0 {
			line += "  tools=" + strings.Join(e.Tools, ",")
		}
		if e.Error != "" {
			line += "  error=" + e.Error
		}
		fmt.Fprintln(w, line)
	}
}
