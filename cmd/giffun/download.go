package main

import (
	"fmt"

	"github.com/Sternrassler/giffun-client/pkg/download"
	"github.com/spf13/cobra"
)

var downloadCmd = &cobra.Command{
	Use:   "download <url> <path>",
	Short: "Download a GIF to a local file",
	Args:  cobra.ExactArgs(2),
	RunE:  runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	stderr := cmd.ErrOrStderr()

	cfg := download.DefaultConfig()
	cfg.Timeout = globalConfig.Download.Timeout
	cfg.BufferSize = globalConfig.Download.BufferSize
	cfg.UserAgent = globalConfig.Backend.UserAgent

	task, err := download.New(cfg, nil).Start(ctx, args[0], args[1], download.ListenerFuncs{
		Progress: func(percent int) { fmt.Fprintf(stderr, "\r%3d%%", percent) },
	})
	if err != nil {
		return err
	}

	<-task.Done()
	if err := task.Err(); err != nil {
		fmt.Fprintln(stderr)
		return err
	}
	fmt.Fprintf(stderr, "\rsaved %s\n", task.Path)
	return nil
}
