package cli

import (
	"github.com/spf13/cobra"

	"github.com/sup1p/saubol/internal/version"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "saubol",
		Short:         "Live multi-speaker transcription for LiveKit rooms",
		Long:          "A worker that joins LiveKit rooms, transcribes every participant's audio track and hands the session transcript off for summarization.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewStopCmd())
	rootCmd.AddCommand(NewRoomsCmd())

	return rootCmd
}
