package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "List or delete enrolled identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities with their sample counts",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesDeleteCmd = &cobra.Command{
	Use:   "delete <identity>",
	Short: "Delete an identity and all of its samples",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesDelete,
}

func init() {
	rootCmd.AddCommand(identitiesCmd)
	identitiesCmd.AddCommand(identitiesListCmd)
	identitiesCmd.AddCommand(identitiesDeleteCmd)

	addModalityFlag(identitiesCmd.PersistentFlags())
	identitiesListCmd.Flags().Bool("json", false, "Output as JSON")
}

// IdentityRow is one line of `identities list`.
type IdentityRow struct {
	Identity string `json:"identity"`
	Samples  int    `json:"samples"`
	Complete bool   `json:"complete"`
}

func runIdentitiesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(cmd)
	if err != nil {
		return err
	}
	identities, err := svc.Identities(ctx)
	if err != nil {
		return err
	}

	rows := make([]IdentityRow, 0, len(identities))
	for _, identity := range identities {
		res, err := svc.Validate(ctx, identity)
		if err != nil {
			return err
		}
		rows = append(rows, IdentityRow{Identity: string(identity), Samples: res.StoredCount, Complete: res.Valid})
	}

	if mustGetBool(cmd, "json") {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Printf("No %s identities enrolled\n", svc.Modality())
		return nil
	}
	fmt.Printf("%-40s %8s  %s\n", "IDENTITY", "SAMPLES", "COMPLETE")
	for _, row := range rows {
		fmt.Printf("%-40s %8d  %t\n", row.Identity, row.Samples, row.Complete)
	}
	fmt.Printf("\n%d identities\n", len(rows))
	return nil
}

func runIdentitiesDelete(cmd *cobra.Command, args []string) error {
	identity, err := biometric.ParseIdentity(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	svc, err := a.service(cmd)
	if err != nil {
		return err
	}
	removed, err := svc.Delete(ctx, identity)
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%s is not enrolled for %s", identity, svc.Modality())
	}
	fmt.Printf("Deleted %s (%d samples)\n", identity, removed)
	return nil
}
