package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage farm agents",
	}
	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentRemoveCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var farm, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agent with a farm",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || name == "" {
				return errors.New("--farm and --name are required")
			}
			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			a, err := st.AddAgent(cmd.Context(), farm, name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added agent %q to farm %q\n", a.Name, farm)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var farm string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents in a farm",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" {
				return errors.New("--farm is required")
			}
			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agents, err := st.ListAgents(cmd.Context(), farm)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", a.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	return cmd
}

func newAgentRemoveCmd() *cobra.Command {
	var farm, name string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an agent (its todos are drained by the next rebalance)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || name == "" {
				return errors.New("--farm and --name are required")
			}
			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.RemoveAgent(cmd.Context(), farm, name); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed agent %q from farm %q\n", name, farm)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	return cmd
}
