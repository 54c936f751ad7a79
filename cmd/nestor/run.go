package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ashbert/nestor/internal/agent"
	"github.com/ashbert/nestor/internal/config"
	"github.com/ashbert/nestor/internal/lockfile"
)

// session is a running assistant owned by one front end.
type session struct {
	agent *agent.Agent
	lock  *lockfile.Lock

	userID      int64
	displayName string
}

// openSession loads config, takes the state-dir lock and assembles the assistant.
func openSession(ctx context.Context, cfgPath string) (*session, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	lock, err := lockfile.Acquire(agent.LockPath(cfg.EffectiveStateDir()))
	if err != nil {
		return nil, err
	}
	a, err := agent.New(ctx, agent.Options{Config: cfg})
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	return &session{
		agent:       a,
		lock:        lock,
		userID:      cfg.Assistant.EffectiveUserID(),
		displayName: cfg.Assistant.EffectiveDisplayName(),
	}, nil
}

func (s *session) Close() error {
	err := s.agent.Close()
	return errors.Join(err, s.lock.Release())
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(stop)
	}()
	return ctx, cancel
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	quiet := fs.Bool("quiet", false, "Skip the welcome banner")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()

	s, err := openSession(ctx, *cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start: %v\n", err)
		os.Exit(1)
	}
	go s.agent.RunJanitor(ctx, agent.DefaultJanitorInterval)

	if !*quiet {
		printWelcomeBanner(os.Stdout, welcomeBannerOptions{Version: Version, Tools: s.agent.ToolNames()})
	}
	err = converseLines(ctx, os.Stdin, os.Stdout, func(ctx context.Context, line string) (string, bool) {
		return dispatch(ctx, s.agent.Service(), s.userID, s.displayName, line)
	})
	if cerr := s.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", cerr)
	}
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "run exited with error: %v\n", err)
		os.Exit(1)
	}
}

// converseLines feeds each non-empty input line to handle until EOF, quit or ctx is done.
func converseLines(ctx context.Context, in io.Reader, out io.Writer, handle func(ctx context.Context, line string) (string, bool)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case err := <-readErr:
			fmt.Fprintln(out)
			return err
		case line := <-lines:
			if strings.TrimSpace(line) == "" {
				continue
			}
			reply, quit := handle(ctx, line)
			if reply != "" {
				fmt.Fprintf(out, "%s\n\n", reply)
			}
			if quit {
				return nil
			}
		}
	}
}
