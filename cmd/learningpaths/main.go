package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/learningpaths/learningpaths/internal/api/client"
	"github.com/learningpaths/learningpaths/internal/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "learningpaths",
		Short: "Learning path catalog and enrollment service",
		Long: `learningpaths manages learning paths: ordered sequences of courses with
grading criteria, skills, and enrollments for individual learners and groups.

Key Commands:
  daemon      - Run and control the API daemon
  paths       - Browse and manage learning paths
  enroll      - Enroll learners in a learning path
  groups      - Manage groups and their course assignments
  skills      - Manage the skill catalog
  admin       - Offline user and token administration
  config      - Show or save the effective configuration
  surface     - Show the public model surface`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/learningpaths/config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the daemon API (env LEARNINGPATHS_TOKEN)")
}

func initConfig() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}

	v := config.GetViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
	v.BindPFlag("ui.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	v.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	if err := config.Reload(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getDaemonURL() string {
	d := config.Get().Daemon
	host := d.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// apiClient returns a client for the running daemon, authenticated with the
// configured token
func apiClient() (*client.Client, error) {
	c := client.NewClient(getDaemonURL())
	if err := c.AutoStartDaemon(); err != nil {
		return nil, err
	}
	if token := config.GetViper().GetString("token"); token != "" {
		c = c.WithToken(token)
	}
	return c, nil
}
