package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/theirongolddev/cplpilot/internal/cli"
	"github.com/theirongolddev/cplpilot/internal/config"
	"github.com/theirongolddev/cplpilot/internal/daemon"
	"github.com/theirongolddev/cplpilot/internal/logger"
	"github.com/theirongolddev/cplpilot/internal/metrics"
	"github.com/theirongolddev/cplpilot/internal/model"

	"github.com/spf13/cobra"
)

type daemonRuntimeState struct {
	PID       int       `json:"pid"`
	Addr      string    `json:"addr"`
	StartedAt time.Time `json:"started_at"`
	DryRun    bool      `json:"dry_run"`
}

var (
	flagDaemonAddr     string
	flagDaemonInterval time.Duration
	flagDaemonDetach   bool
	flagDaemonState    string
	flagDaemonLogFile  string
	flagDaemonDryRun   bool
	flagDaemonChild    bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the batch on a schedule with HTTP status and /metrics",
	RunE:  runDaemon,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon process and last run",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE:  runDaemonStop,
}

func init() {
	defaultState := filepath.Join(config.DataDir(), "cplpilotd.json")
	defaultLog := filepath.Join(config.DataDir(), "cplpilotd.log")

	daemonCmd.PersistentFlags().StringVar(&flagDaemonAddr, "addr", "127.0.0.1:9464", "HTTP listen address")
	daemonCmd.PersistentFlags().StringVar(&flagDaemonState, "state-file", defaultState, "File recording the running daemon's pid and address")
	daemonCmd.Flags().DurationVar(&flagDaemonInterval, "interval", 24*time.Hour, "Time between runs (at least 1m)")
	daemonCmd.Flags().StringVar(&flagDaemonLogFile, "log-file", defaultLog, "Log file path for detached mode")
	daemonCmd.Flags().BoolVar(&flagDaemonDryRun, "dry-run", false, "Compute decisions without updating budgets")
	daemonCmd.Flags().BoolVar(&flagDaemonDetach, "detach", false, "Run daemon as a background process")
	daemonCmd.Flags().BoolVar(&flagDaemonChild, "child", false, "Internal: mark detached child process")
	_ = daemonCmd.Flags().MarkHidden("child")

	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if flagDaemonDetach && flagDaemonChild {
		return errors.New("invalid daemon launch mode")
	}

	// Fail fast on bad settings before forking.
	cfg, creds, err := loadRunSettings()
	if err != nil {
		return err
	}

	if flagDaemonDetach {
		return startDaemonDetached()
	}
	return runDaemonForeground(cfg, creds)
}

func startDaemonDetached() error {
	if err := ensureDaemonNotRunning(); err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	args := filterDetachArg(os.Args[1:])
	args = append(args, "--child")

	if err := os.MkdirAll(filepath.Dir(flagDaemonLogFile), 0o750); err != nil {
		return fmt.Errorf("create daemon log directory: %w", err)
	}

	//nolint:gosec // daemon log path is configured by the local user
	logf, err := os.OpenFile(flagDaemonLogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log file: %w", err)
	}
	defer func() { _ = logf.Close() }()

	cmd := exec.Command(exe, args...) //nolint:gosec // exe/args come from current process invocation
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.Stdin = nil
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start detached daemon: %w", err)
	}

	fmt.Printf("  Started daemon (pid %d)\n", cmd.Process.Pid)
	fmt.Printf("  State file: %s\n", flagDaemonState)
	fmt.Printf("  API: http://%s/v1/status\n", flagDaemonAddr)
	fmt.Printf("  Log: %s\n", flagDaemonLogFile)
	return nil
}

func runDaemonForeground(cfg config.Config, creds config.Credentials) error {
	if err := ensureDaemonNotRunning(); err != nil {
		return err
	}
	state := daemonRuntimeState{
		PID:       os.Getpid(),
		Addr:      flagDaemonAddr,
		StartedAt: time.Now(),
		DryRun:    flagDaemonDryRun,
	}
	if err := writeState(flagDaemonState, state); err != nil {
		return err
	}
	defer func() { _ = os.Remove(flagDaemonState) }()

	runner, err := newRunner(cfg, creds, flagDaemonDryRun)
	if err != nil {
		return err
	}
	rec, err := metrics.NewRecorder()
	if err != nil {
		return err
	}

	svc := daemon.New(daemon.Config{
		Interval: flagDaemonInterval,
		Addr:     flagDaemonAddr,
		DryRun:   flagDaemonDryRun,
		OnReport: func(ctx context.Context, r model.RunReport) {
			if err := saveReport(cfg, r); err != nil {
				logger.ErrorWithErr(ctx, "saving run to ledger", err, "run_id", r.ID)
			}
		},
	}, func(ctx context.Context) model.RunReport {
		return runner.Run(ctx, cfg.Accounts.IDs)
	}, rec)

	fmt.Printf("  cplpilot daemon listening on http://%s\n", flagDaemonAddr)
	fmt.Printf("  Running %d accounts every %s\n", len(cfg.Accounts.IDs),
		time.Duration(svc.Status().IntervalSec)*time.Second)
	fmt.Printf("  Stop with: cplpilot daemon stop --state-file %s\n", flagDaemonState)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	st, running := runningDaemon()
	if !running {
		fmt.Println("  Daemon: not running")
		return nil
	}
	fmt.Printf("  Daemon PID: %d (since %s)\n", st.PID, cli.FormatTime(st.StartedAt))
	fmt.Printf("  Address: http://%s\n", st.Addr)

	status, err := fetchDaemonStatus(st.Addr)
	if err != nil {
		fmt.Printf("  API status: %v\n", err)
		return nil
	}

	if status.LastRunAt.IsZero() {
		fmt.Println("  Last run: pending")
	} else {
		fmt.Printf("  Last run: %s (%s)\n", cli.FormatTime(status.LastRunAt), cli.ShortID(status.Last.RunID))
		fmt.Printf("  Next run: %s\n", cli.FormatTime(status.NextRunAt))
	}
	fmt.Printf("  Runs: %d\n", status.RunCount)
	if status.DryRun {
		fmt.Println("  Mode: dry run")
	}
	s := status.Last.Summary
	fmt.Printf("  Adsets: %d (▲ %d  ▼ %d  ● %d  skipped %d  failed %d)\n",
		s.Adsets, s.Increase, s.Decrease, s.Maintain, s.Skipped, s.Failed)
	if status.LastError != "" {
		fmt.Println(cli.RenderError("Last error: " + status.LastError))
	}
	return nil
}

func fetchDaemonStatus(addr string) (daemon.Status, error) {
	var st daemon.Status
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/v1/status") //nolint:noctx // short status probe
	if err != nil {
		return st, fmt.Errorf("unreachable (%w)", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("malformed response (%w)", err)
	}
	return st, nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	st, running := runningDaemon()
	if !running {
		return errors.New("daemon is not running")
	}

	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon process: %w", err)
	}

	for deadline := time.Now().Add(8 * time.Second); time.Now().Before(deadline); time.Sleep(150 * time.Millisecond) {
		if !processAlive(st.PID) {
			_ = os.Remove(flagDaemonState)
			fmt.Printf("  Stopped daemon (pid %d)\n", st.PID)
			return nil
		}
	}
	return fmt.Errorf("daemon (pid %d) did not exit in time", st.PID)
}

func filterDetachArg(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--detach" || strings.HasPrefix(a, "--detach=") {
			continue
		}
		out = append(out, a)
	}
	return out
}

// runningDaemon reads the state file and reports whether its pid is alive.
// A stale file is removed.
func runningDaemon() (daemonRuntimeState, bool) {
	st, err := readState(flagDaemonState)
	if err != nil {
		return st, false
	}
	if !processAlive(st.PID) {
		_ = os.Remove(flagDaemonState)
		return st, false
	}
	return st, true
}

func ensureDaemonNotRunning() error {
	if st, running := runningDaemon(); running {
		return fmt.Errorf("daemon already running (pid %d)", st.PID)
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func writeState(path string, st daemonRuntimeState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create daemon directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func readState(path string) (daemonRuntimeState, error) {
	var st daemonRuntimeState
	//nolint:gosec // daemon state path is configured by the local user
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("reading %s: %w", path, err)
	}
	return st, nil
}
