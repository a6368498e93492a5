package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)

	stopCmd.Flags().Bool("wait", false, "block until the daemon has exited")
	stopCmd.Flags().Duration("timeout", 30*time.Second, "wait timeout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "magpie.pid")
}

// daemonProcess resolves the daemon's PID from its PID file and confirms
// the process is alive with signal 0.
func daemonProcess(dataDir string) (*os.Process, int, error) {
	data, err := os.ReadFile(pidFilePath(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("no running daemon (PID file not found)")
		}
		return nil, 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("invalid PID file content: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil, 0, fmt.Errorf("no running daemon (process %d not found)", pid)
	}
	return proc, pid, nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		proc, pid, err := daemonProcess(cfg.DataDir)
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("send SIGTERM: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)

		if !wait {
			return nil
		}
		deadline := time.Now().Add(timeout)
		for proc.Signal(syscall.Signal(0)) == nil {
			if time.Now().After(deadline) {
				return fmt.Errorf("daemon (PID %d) still running after %s", pid, timeout)
			}
			time.Sleep(200 * time.Millisecond)
		}
		fmt.Fprintln(os.Stdout, "Daemon stopped.")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		proc, pid, err := daemonProcess(cfg.DataDir)
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGHUP); err != nil {
			return fmt.Errorf("send SIGHUP: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d) for restart.\n", pid)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		_, pid, err := daemonProcess(cfg.DataDir)
		if err != nil {
			fmt.Fprintln(os.Stdout, "Daemon is not running.")
			return nil
		}
		fmt.Fprintf(os.Stdout, "Daemon is running (PID %d).\n", pid)

		// The process may be up while the listener is not; check /health.
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(daemonURL(cfg.Listen) + "/health")
		if err != nil {
			fmt.Fprintf(os.Stdout, "Health check failed: %v\n", err)
			return nil
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stdout, "Health: %s %s\n", resp.Status, strings.TrimSpace(string(body)))
		return nil
	},
}
