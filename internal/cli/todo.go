package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civalops/farmcoord/pkg/models"
)

func newTodoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todo",
		Short: "Manage todos",
	}
	cmd.AddCommand(newTodoAddCmd())
	cmd.AddCommand(newTodoBulkAssignCmd())
	cmd.AddCommand(newTodoListCmd())
	cmd.AddCommand(newTodoStatusCmd())
	cmd.AddCommand(newTodoCompleteCmd())
	cmd.AddCommand(newTodoCancelCmd())
	return cmd
}

func newTodoAddCmd() *cobra.Command {
	var (
		farm        string
		agent       string
		title       string
		description string
		category    string
		priority    string
		hierarchy   string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a todo for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || agent == "" || title == "" {
				return errors.New("--farm, --agent, and --title are required")
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			snap, err := coord.CreateTodo(cmd.Context(), models.CreateTodoRequest{
				Farm:           farm,
				AgentID:        agent,
				Title:          title,
				Description:    description,
				Category:       category,
				Priority:       priority,
				HierarchyLevel: hierarchy,
			})
			if err != nil {
				return err
			}
			list := snap.AgentTodoLists[agent]
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created todo for %q (farm rev %d, agent has %d todos)\n",
				agent, snap.Revision, list.Summary.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&agent, "agent", "", "Agent name")
	cmd.Flags().StringVar(&title, "title", "", "Todo title")
	cmd.Flags().StringVar(&description, "description", "", "Optional description")
	cmd.Flags().StringVar(&category, "category", "", "Category (trading, analysis, coordination, goal)")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (low, medium, high, critical)")
	cmd.Flags().StringVar(&hierarchy, "hierarchy", "", "Hierarchy level (individual, group, farm)")
	return cmd
}

func newTodoBulkAssignCmd() *cobra.Command {
	var (
		farm     string
		agents   []string
		title    string
		category string
		priority string
	)
	cmd := &cobra.Command{
		Use:   "bulk-assign",
		Short: "Assign the same todo to several agents atomically",
		Long:  "Creates one copy of the todo per agent. Either every copy is written or none are.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || title == "" {
				return errors.New("--farm and --title are required")
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			// Default to the whole roster when no --agent is given.
			if len(agents) == 0 {
				roster, err := st.ListAgents(cmd.Context(), farm)
				if err != nil {
					return err
				}
				for _, a := range roster {
					agents = append(agents, a.Name)
				}
			}
			if len(agents) == 0 {
				return errors.New("farm has no agents")
			}

			snap, err := coord.AssignToAgents(cmd.Context(), farm, models.Todo{
				Title:    title,
				Category: category,
				Priority: priority,
			}, agents)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Assigned %q to %d agent(s) (farm rev %d)\n", title, len(agents), snap.Revision)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringSliceVar(&agents, "agent", nil, "Target agent (repeatable; default: every agent in the farm)")
	cmd.Flags().StringVar(&title, "title", "", "Todo title")
	cmd.Flags().StringVar(&category, "category", "", "Category (trading, analysis, coordination, goal)")
	cmd.Flags().StringVar(&priority, "priority", "", "Priority (low, medium, high, critical)")
	return cmd
}

func newTodoListCmd() *cobra.Command {
	var farm, agent string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos for a farm (or one agent with --agent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" {
				return errors.New("--farm is required")
			}
			st, _, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var todos []struct {
				ID, Agent, Title, Priority, Status string
			}
			if agent != "" {
				list, err := st.ListByAgent(cmd.Context(), farm, agent)
				if err != nil {
					return err
				}
				for _, t := range list {
					todos = append(todos, struct{ ID, Agent, Title, Priority, Status string }{t.TodoID, t.AgentID, t.Title, t.Priority, t.Status})
				}
			} else {
				list, err := st.ListByFarm(cmd.Context(), farm)
				if err != nil {
					return err
				}
				for _, t := range list {
					todos = append(todos, struct{ ID, Agent, Title, Priority, Status string }{t.TodoID, t.AgentID, t.Title, t.Priority, t.Status})
				}
			}
			if len(todos) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No todos.")
				return nil
			}
			for _, t := range todos {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s [%s/%s] %s (%s)\n", t.ID, t.Priority, t.Status, t.Title, t.Agent)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&agent, "agent", "", "Limit to one agent")
	return cmd
}

func newTodoStatusCmd() *cobra.Command {
	var farm, id, status, actor string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Transition a todo's status as an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || id == "" || status == "" {
				return errors.New("--farm, --id, and --status are required")
			}
			if actor == "" {
				actor = models.CoordinatorActor
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := coord.UpdateStatus(cmd.Context(), farm, id, status, actor); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Todo %s status set to %q\n", id, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&id, "id", "", "Todo ID")
	cmd.Flags().StringVar(&status, "status", "", "New status (pending, in_progress, completed, cancelled)")
	cmd.Flags().StringVar(&actor, "actor", "", "Acting agent (default: farm_coordinator)")
	return cmd
}

func newTodoCompleteCmd() *cobra.Command {
	var farm, id, actor string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark an in-progress todo as completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || id == "" {
				return errors.New("--farm and --id are required")
			}
			if actor == "" {
				actor = models.CoordinatorActor
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := coord.UpdateStatus(cmd.Context(), farm, id, models.StatusCompleted, actor); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Todo %s completed\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&id, "id", "", "Todo ID")
	cmd.Flags().StringVar(&actor, "actor", "", "Acting agent (default: farm_coordinator)")
	return cmd
}

func newTodoCancelCmd() *cobra.Command {
	var farm, id, actor string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending or in-progress todo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if farm == "" || id == "" {
				return errors.New("--farm and --id are required")
			}
			if actor == "" {
				actor = models.CoordinatorActor
			}
			st, coord, err := openLocal(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if _, err := coord.UpdateStatus(cmd.Context(), farm, id, models.StatusCancelled, actor); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Todo %s cancelled\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&farm, "farm", "", "Farm name")
	cmd.Flags().StringVar(&id, "id", "", "Todo ID")
	cmd.Flags().StringVar(&actor, "actor", "", "Acting agent (default: farm_coordinator)")
	return cmd
}
