// Command fritztv republishes a home router's SAT>IP / RTSP television
// feeds as browser-playable HTTP streams.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fritztv",
		Short: "Personal IPTV gateway for SAT>IP / RTSP tuners",
		Long: "fritztv runs one ffmpeg transcoder per tuned channel and fans its\n" +
			"output out to HTTP clients as fragmented MP4 and HLS.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}
	root.AddCommand(serveCmd())
	return root
}
