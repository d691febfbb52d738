package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/glefebvre/episodebot/internal/models"
	"github.com/glefebvre/episodebot/internal/pipeline"
	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release <title>",
	Short: "Release the next episode of a configured title now",
	Long: `Run the release pipeline once for a title listed under schedule.jobs,
using its download commands, and wait for it to finish. The command exits
non-zero when the run aborts; the ledger is then left untouched so the same
episode is attempted again next time.

--video and --audio override the configured download commands.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := args[0]
		videoOverride, _ := cmd.Flags().GetString("video")
		audioOverride, _ := cmd.Flags().GetString("audio")

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		job, ok := a.cfg.Job(title)
		if !ok && (videoOverride == "" || audioOverride == "") {
			return fmt.Errorf("no job configured for %q; pass --video and --audio to release it anyway", title)
		}
		directives := pipeline.Directives{Video: job.VideoCommand, Audio: job.AudioCommand}
		if videoOverride != "" {
			directives.Video = videoOverride
		}
		if audioOverride != "" {
			directives.Audio = audioOverride
		}

		outcome := a.pipeline.Release(ctx, title, directives)

		fmt.Printf("Run:      %s\n", outcome.RunID)
		fmt.Printf("Title:    %s %s\n", outcome.Title, outcome.Position)
		fmt.Printf("Status:   %s\n", outcome.Status)
		for _, link := range outcome.Links {
			fmt.Printf("  %-6s %s\n", link.Quality, link.URL)
		}

		if outcome.Err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", outcome.Err)
		}
		if outcome.Status != models.ReleaseStatusFinalized {
			a.close()
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	releaseCmd.Flags().String("video", "", "video download command (overrides the configured one)")
	releaseCmd.Flags().String("audio", "", "audio download command (overrides the configured one)")
}
