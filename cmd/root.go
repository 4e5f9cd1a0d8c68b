package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bioauth",
	Short: "Face and voice enrollment, verification and identification",
	Long: `bioauth stores biometric embeddings per identity and decides whether a
new face or voice sample belongs to an enrolled identity.

Embeddings come from an external model server; bioauth owns the enrollment
store, the similarity scoring and the accept/reject decisions. Voice
verification can additionally require the enrolled spoken phrase.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
