package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/imerljak/flow-craft-sub001/pkg/api"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage rule groups",
}

var groupsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List rule groups",
	RunE:    runGroupsList,
}

var groupsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a rule group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsCreate,
}

var groupsDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a group (member rules are detached, not deleted)",
	Args:    cobra.ExactArgs(1),
	RunE:    runGroupsDelete,
}

var groupsToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Enable or disable a group and all its member rules",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsToggle,
}

func init() {
	groupsCreateCmd.Flags().String("description", "", "Group description")
	groupsToggleCmd.Flags().Bool("off", false, "Disable instead of enable")

	groupsCmd.AddCommand(groupsListCmd, groupsCreateCmd, groupsDeleteCmd, groupsToggleCmd)
	rootCmd.AddCommand(groupsCmd)
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.ListGroups(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tENABLED\tCREATED")
	for _, g := range groups {
		enabled := "yes"
		if !g.Enabled {
			enabled = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.ID, g.Name, enabled, g.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runGroupsCreate(cmd *cobra.Command, args []string) error {
	description, _ := cmd.Flags().GetString("description")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	group := api.RuleGroup{Name: args[0], Description: description, Enabled: true}
	if err := st.CreateGroup(cmd.Context(), &group); err != nil {
		return err
	}
	fmt.Println(group.ID)
	return nil
}

func runGroupsDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	return st.DeleteGroup(cmd.Context(), args[0])
}

func runGroupsToggle(cmd *cobra.Command, args []string) error {
	off, _ := cmd.Flags().GetBool("off")

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetGroupEnabled(cmd.Context(), args[0], !off); err != nil {
		return err
	}
	state := "enabled"
	if off {
		state = "disabled"
	}
	fmt.Printf("%s %s\n", args[0], state)
	return nil
}
