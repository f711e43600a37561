package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/api"
	"github.com/learningpaths/learningpaths/internal/api/client"
	"github.com/learningpaths/learningpaths/internal/config"
	"github.com/learningpaths/learningpaths/internal/daemon"
	"github.com/learningpaths/learningpaths/internal/logger"
	"github.com/learningpaths/learningpaths/internal/storage"
	"github.com/learningpaths/learningpaths/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the learningpaths daemon",
	Long: `Control the background daemon that owns the database and serves the HTTP API.

The daemon also runs course milestone checks and persists its job state.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the learningpaths daemon",
	Long: `Start the learningpaths daemon in the background.

The daemon will:
- Open the SQLite or PostgreSQL database
- Process course milestone checks
- Provide an HTTP API on port 8737 (configurable)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if isDaemonRunning() {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is already running")
			return nil
		}

		foreground, _ := cmd.Flags().GetBool("foreground")
		port, _ := cmd.Flags().GetInt("port")
		if port != 0 {
			if err := config.Set("daemon.port", port); err != nil {
				return err
			}
		}

		if foreground {
			return runDaemonForeground()
		}
		return startDaemonBackground()
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the learningpaths daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !isDaemonRunning() {
			fmt.Fprintln(out, "Daemon is not running")
			return nil
		}

		// Try API shutdown first; it needs a staff token
		if token := config.GetViper().GetString("token"); token != "" {
			apiClient := client.NewClient(getDaemonURL()).WithToken(token)
			if err := apiClient.Shutdown(); err == nil {
				fmt.Fprintln(out, "Daemon shutdown initiated via API")
				if waitForStop(5) {
					fmt.Fprintln(out, "Daemon stopped successfully")
					return nil
				}
			}
		}

		// Fall back to PID-based shutdown
		pid, err := readPID()
		if err != nil {
			return err
		}
		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("failed to find process: %w", err)
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		fmt.Fprintln(out, "Sent shutdown signal to daemon")

		if waitForStop(10) {
			fmt.Fprintln(out, "Daemon stopped successfully")
			return nil
		}
		return errors.New("daemon did not stop within timeout")
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		status, err := client.NewClient(getDaemonURL()).GetStatus()
		if err != nil {
			fmt.Fprintln(out, "Daemon is not running")
			return nil
		}

		fmt.Fprintln(out, "Daemon Status:")
		fmt.Fprintf(out, "  PID: %v\n", status["pid"])
		fmt.Fprintf(out, "  Uptime: %v\n", status["uptime"])
		fmt.Fprintf(out, "  Database: %v\n", status["database_driver"])
		fmt.Fprintf(out, "  Milestone Mode: %v\n", status["milestone_mode"])
		fmt.Fprintf(out, "  Pending Milestones: %v\n", status["pending_milestones"])
		fmt.Fprintf(out, "  Milestones Checked: %v (fulfilled %v, failed %v)\n",
			status["milestones_checked"], status["milestones_fulfilled"], status["milestone_failures"])
		if usage, ok := status["disk_usage"].(map[string]interface{}); ok {
			total, _ := usage["total"].(float64)
			fmt.Fprintf(out, "  Disk Usage: %s\n", ui.FormatBytes(int64(total)))
		}
		if logFile, _ := status["log_file"].(string); logFile != "" {
			fmt.Fprintf(out, "  Log File: %s\n", logFile)
		}
		return nil
	},
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the learningpaths daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if isDaemonRunning() {
			fmt.Fprintln(cmd.OutOrStdout(), "Stopping daemon...")
			if err := daemonStopCmd.RunE(cmd, args); err != nil {
				return err
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Starting daemon...")
		return daemonStartCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRestartCmd)

	daemonStartCmd.Flags().Bool("foreground", false, "Run daemon in foreground")
	daemonStartCmd.Flags().Int("port", 0, "API port (default: 8737)")

	daemonRestartCmd.Flags().Bool("foreground", false, "Run daemon in foreground after restart")
	daemonRestartCmd.Flags().Int("port", 0, "API port (default: 8737)")
}

func isDaemonRunning() bool {
	return client.NewClient(getDaemonURL()).Health() == nil
}

func waitForStop(seconds int) bool {
	for i := 0; i < seconds; i++ {
		time.Sleep(time.Second)
		if !isDaemonRunning() {
			return true
		}
	}
	return false
}

func readPID() (int, error) {
	paths, err := storage.NewPathsAt(config.Get().Storage.BaseDir)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(paths.PIDPath())
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}

func runDaemonForeground() error {
	cfg := config.Get()
	paths, err := storage.NewPathsAt(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	cleanup, err := logger.Setup(logger.Config{
		Dir:    paths.LogsDir(),
		Debug:  cfg.UI.Verbose,
		Stderr: true,
	})
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer cleanup()

	gin.SetMode(gin.ReleaseMode)

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	d.SetAPIHandler(api.SetupRoutes(d))

	if err := d.Start(); err != nil {
		d.Shutdown()
		return err
	}
	logger.L().Info("daemon started", "addr", d.Addr(), "pid", os.Getpid())

	<-d.Done()
	return d.Shutdown()
}

func startDaemonBackground() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"daemon", "start", "--foreground", "--port", strconv.Itoa(config.Get().Daemon.Port)}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("failed to detach daemon process: %w", err)
	}

	fmt.Printf("Starting daemon on %s...\n", getDaemonURL())
	for i := 0; i < 10; i++ {
		time.Sleep(time.Second)
		if isDaemonRunning() {
			fmt.Println("Daemon started successfully")
			return nil
		}
	}
	return errors.New("daemon failed to start within timeout")
}
