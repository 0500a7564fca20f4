package main

import "github.com/spf13/cobra"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "ragloop",
	Short:   "Document question answering with feedback-driven policy optimization",
	Version: version,
	Long: `ragloop answers questions from an ingested document corpus, records
human feedback on every answer, and periodically compiles that feedback
into an improved answering policy.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(statusCmd)
}
