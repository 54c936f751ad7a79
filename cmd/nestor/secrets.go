package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/term"

	"github.com/ashbert/nestor/internal/agent"
	"github.com/ashbert/nestor/internal/config"
	"github.com/ashbert/nestor/internal/settings"
)

func secretsCmd(args []string) {
	if len(args) < 1 {
		printSecretsUsage()
		os.Exit(2)
	}
	action := args[0]

	fs := flag.NewFlagSet("secrets "+action, flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args[1:])

	store := settings.NewSecretsStore(agent.SecretsPath(secretsStateDir(*cfgPath)))

	switch action {
	case "status":
		if err := printSecretsStatus(os.Stdout, store); err != nil {
			fmt.Fprintf(os.Stderr, "secrets status failed: %v\n", err)
			os.Exit(1)
		}
	case "set", "clear":
		if fs.NArg() != 1 {
			printSecretsUsage()
			os.Exit(2)
		}
		name := fs.Arg(0)
		var err error
		if action == "set" {
			var value string
			value, err = readSecret(os.Stdin, os.Stderr, name)
			if err == nil {
				err = store.Set(name, value)
			}
		} else {
			err = store.Clear(name)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "secrets %s failed: %v\n", action, err)
			os.Exit(1)
		}
		fmt.Printf("%s: %s updated\n", store.Path(), name)
	default:
		printSecretsUsage()
		os.Exit(2)
	}
}

func printSecretsUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  nestor secrets status [--config path]
  nestor secrets set <name> [--config path]
  nestor secrets clear <name> [--config path]

Names: %s
`, strings.Join(settings.SecretNames(), ", "))
}

// secretsStateDir resolves the state dir without requiring a complete config.
func secretsStateDir(cfgPath string) string {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.DefaultStateDir()
	}
	return cfg.EffectiveStateDir()
}

func printSecretsStatus(w io.Writer, store *settings.SecretsStore) error {
	status, err := store.Status()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		state := "unset"
		if status[name] {
			state = "set"
		}
		env, _ := settings.EnvVar(name)
		fmt.Fprintf(w, "%-20s %-6s (env %s)\n", name, state, env)
	}
	return nil
}

// readSecret reads a value without echo on a terminal, or one line from piped input.
func readSecret(in *os.File, prompt io.Writer, name string) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprintf(prompt, "%s: ", name)
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return validSecret(string(b))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return validSecret(line)
}

func validSecret(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New("empty value")
	}
	return v, nil
}
