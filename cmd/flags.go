package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// addModalityFlag registers --modality on flags.
func addModalityFlag(flags *pflag.FlagSet) {
	flags.String("modality", string(biometric.ModalityFace), "Biometric modality (face or voice)")
}

// modalityFlag parses --modality. Unlike the other getters a bad value is a
// user error, not a programming bug.
func modalityFlag(cmd *cobra.Command) (biometric.Modality, error) {
	modality, err := biometric.ParseModality(mustGetString(cmd, "modality"))
	if err != nil {
		return "", fmt.Errorf("--modality: %w", err)
	}
	return modality, nil
}
