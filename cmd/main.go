package main

import (
	"fmt"
	"os"

	"github.com/glefebvre/episodebot/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "episodebot",
	Short: "episodebot releases new episodes to Telegram on a schedule",
	Long: `episodebot runs configured download tools at scheduled times, merges the
downloaded video and audio into several quality renditions, uploads them to a
storage channel and keeps one status post per episode whose buttons grow as
each rendition is published.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of episodebot",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("episodebot %s\n", version)
	},
}

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yml)")
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func initConfig() {
	// Skip config loading for version command
	if len(os.Args) > 1 && os.Args[1] == "version" {
		return
	}

	if err := config.LoadFile(configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
