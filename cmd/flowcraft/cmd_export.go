package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export all rules and groups as JSON (stdout without a file)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	env, err := st.Export(cmd.Context())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	if len(args) == 0 {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(args[0], out, 0644); err != nil {
		return errx.Wrap(ErrWriteExport, err)
	}
	fmt.Printf("exported %d rules to %s\n", len(env.Rules), args[0])
	return nil
}
