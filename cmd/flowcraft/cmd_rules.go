package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/term"

	"github.com/imerljak/flow-craft-sub001/internal/errx"
	"github.com/imerljak/flow-craft-sub001/pkg/api"
	"github.com/imerljak/flow-craft-sub001/pkg/store"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage interception rules",
}

var rulesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all rules",
	RunE:    runRulesList,
}

var rulesGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one rule as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesGet,
}

var rulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a rule from a JSON definition",
	Example: `  flowcraft rules create -f rule.json
  cat rule.json | flowcraft rules create -f -`,
	RunE: runRulesCreate,
}

var rulesDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a rule",
	Args:    cobra.ExactArgs(1),
	RunE:    runRulesDelete,
}

var rulesToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesToggle,
}

var rulesEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit rule fields in place",
	Example: `  flowcraft rules edit r-123 --set action.mock.statusCode=500
  flowcraft rules edit r-123 --set matcher.pattern='https://api.test/*' --set priority=5`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesEdit,
}

func init() {
	rulesCreateCmd.Flags().StringP("file", "f", "", "Rule definition file ('-' for stdin)")
	rulesToggleCmd.Flags().Bool("off", false, "Disable instead of enable")
	rulesEditCmd.Flags().StringArray("set", nil, "Field assignment path=value (can be repeated)")

	rulesCmd.AddCommand(rulesListCmd, rulesGetCmd, rulesCreateCmd, rulesDeleteCmd, rulesToggleCmd, rulesEditCmd)
	rootCmd.AddCommand(rulesCmd)
}

// openStore opens the sqlite store under the configured data directory.
// Callers must Close it.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.GetDataDir(), 0755); err != nil {
		return nil, errx.Wrap(ErrCreateDataDir, err)
	}
	st, err := store.Open(cfg.DBPath(), nil)
	if err != nil {
		return nil, errx.Wrap(ErrOpenStore, err)
	}
	return st, nil
}

func runRulesList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rules, err := st.ListRules(cmd.Context())
	if err != nil {
		return err
	}

	// Plain id-per-line output when piped, a table on a terminal.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		for _, r := range rules {
			fmt.Println(r.ID)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tPRIORITY\tACTION\tPATTERN")
	for _, r := range rules {
		enabled := "yes"
		if !r.Enabled {
			enabled = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Name, enabled, r.Priority, r.Action.Kind, r.Matcher.Pattern)
	}
	return w.Flush()
}

func runRulesGet(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rule, err := st.GetRule(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(rule, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runRulesCreate(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		return ErrRuleFileRequired
	}

	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return errx.Wrap(ErrReadRuleFile, err)
	}

	var rule api.Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return errx.Wrap(ErrParseRule, err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateRule(cmd.Context(), &rule); err != nil {
		return err
	}
	fmt.Println(rule.ID)
	return nil
}

func runRulesDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.DeleteRule(cmd.Context(), args[0])
}

func runRulesToggle(cmd *cobra.Command, args []string) error {
	off, _ := cmd.Flags().GetBool("off")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetRuleEnabled(cmd.Context(), args[0], !off); err != nil {
		return err
	}
	state := "enabled"
	if off {
		state = "disabled"
	}
	fmt.Printf("%s %s\n", args[0], state)
	return nil
}

func runRulesEdit(cmd *cobra.Command, args []string) error {
	assignments, _ := cmd.Flags().GetStringArray("set")
	if len(assignments) == 0 {
		return ErrInvalidSetExpr
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	rule, err := st.GetRule(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	doc, err := json.Marshal(rule)
	if err != nil {
		return err
	}

	for _, assign := range assignments {
		path, value, ok := strings.Cut(assign, "=")
		if !ok || path == "" {
			return errx.With(ErrInvalidSetExpr, ": %q", assign)
		}
		// Values that parse as JSON keep their type; everything else is a
		// string.
		if gjson.Valid(value) {
			doc, err = sjson.SetRawBytes(doc, path, []byte(value))
		} else {
			doc, err = sjson.SetBytes(doc, path, value)
		}
		if err != nil {
			return errx.With(ErrInvalidSetExpr, ": %q: %v", assign, err)
		}
	}

	var edited api.Rule
	if err := json.Unmarshal(doc, &edited); err != nil {
		return errx.Wrap(ErrParseRule, err)
	}
	edited.ID = rule.ID
	if _, err := st.UpdateRule(cmd.Context(), edited); err != nil {
		return err
	}
	out, _ := json.MarshalIndent(edited, "", "  ")
	fmt.Println(string(out))
	return nil
}
