package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newFarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "farm",
		Short: "Manage farms",
	}
	cmd.AddCommand(newFarmAddCmd())
	cmd.AddCommand(newFarmListCmd())
	cmd.AddCommand(newFarmRemoveCmd())
	cmd.AddCommand(newFarmRebalanceCmd())
	cmd.AddCommand(newFarmProgressCmd())
	cmd.AddCommand(newFarmPrioritizeCmd())
	return cmd
}

func newFarmAddCmd() *cobra.Command {
	var name string
	var agents int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a farm (optionally with --agents N)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			f, err := st.CreateFarm(cmd.Context(), name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created farm %q (%s)\n", f.Name, f.FarmID)

			for i := 0; i < agents; i++ {
				agentName := fmt.Sprintf("agent-%d", i+1)
				if _, err := st.AddAgent(cmd.Context(), name, agentName); err != nil {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Warning: could not add agent %q: %v\n", agentName, err)
				} else {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added agent %q\n", agentName)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Farm name")
	cmd.Flags().IntVar(&agents, "agents", 0, "Create N agents (agent-1, agent-2, ...)")
	return cmd
}

func newFarmListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List farms",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			farms, err := st.ListFarms(cmd.Context())
			if err != nil {
				return err
			}
			if len(farms) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No farms.")
				return nil
			}
			for _, f := range farms {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (agents=%d todos=%d rev=%d)\n", f.Name, f.AgentCount, f.TodoCount, f.Revision)
			}
			return nil
		},
	}
	return cmd
}

func newFarmRemoveCmd() *cobra.Command {
	var (
		name string
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a farm and its todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if !yes {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Remove farm %q and all its todos? Type the farm name to confirm:\n", name)
				in := bufio.NewReader(cmd.InOrStdin())
				line, err := in.ReadString('\n')
				if err != nil && !strings.Contains(err.Error(), "EOF") {
					return err
				}
				if strings.TrimSpace(line) != name {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.DeleteFarm(cmd.Context(), name); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Removed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Farm name")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")
	return cmd
}

func newFarmRebalanceCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Redistribute pending todos from overloaded agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			res, err := coord.RebalanceWorkload(cmd.Context(), name)
			if err != nil {
				return err
			}
			if len(res.Moves) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Loads already in band; nothing moved.")
				return nil
			}
			for _, m := range res.Moves {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "moved %s: %s -> %s\n", m.TodoID, m.FromAgent, m.ToAgent)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d todo(s) moved\n", len(res.Moves))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Farm name")
	return cmd
}

func newFarmPrioritizeCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "prioritize",
		Short: "Recompute priority buckets, escalating stale pending todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			snap, err := coord.UpdatePriorities(cmd.Context(), name)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Buckets: immediate=%d planned=%d long_term=%d\n",
				len(snap.Priorities.Immediate), len(snap.Priorities.Planned), len(snap.Priorities.LongTerm))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Farm name")
	return cmd
}

func newFarmProgressCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show completion progress and priority buckets for a farm",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			snap, err := coord.GetFarmTodos(cmd.Context(), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Farm %s (rev %d): %.1f%% complete\n", snap.Farm, snap.Revision, snap.FarmProgress.OverallCompletion)
			_, _ = fmt.Fprintf(out, "Buckets: immediate=%d planned=%d long_term=%d\n",
				len(snap.Priorities.Immediate), len(snap.Priorities.Planned), len(snap.Priorities.LongTerm))
			for agent, list := range snap.AgentTodoLists {
				_, _ = fmt.Fprintf(out, "- %s: pending=%d in_progress=%d completed=%d (%.1f%%)\n",
					agent, list.Summary.Pending, list.Summary.InProgress, list.Summary.Completed,
					snap.FarmProgress.AgentPerformance[agent])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Farm name")
	return cmd
}
