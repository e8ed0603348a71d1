package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import rules and groups from an export file ('-' for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func init() {
	importCmd.Flags().Bool("replace", false, "Drop existing rules and groups first")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if args[0] == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return errx.Wrap(ErrReadImport, err)
	}

	var env api.ExportEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errx.Wrap(ErrParseImport, err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	replace, _ := cmd.Flags().GetBool("replace")
	imported, err := st.Import(cmd.Context(), env, replace)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d rules\n", imported)
	return nil
}
