package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/c2fleet/pkg/model"
)

func newOperationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "operation",
		Aliases: []string{"op"},
		Short:   "Queue and inspect agent operations",
		Long: `Queue operations for agents and inspect their delivery state.

A queued operation is handed to its target agent on the agent's next
heartbeat (QUEUED -> DEPLOYED) and marked DONE when the agent acknowledges it.`,
	}

	cmd.AddCommand(newOperationQueueCommand())
	cmd.AddCommand(newOperationListCommand())

	return cmd
}

// parseArgs turns key=value pairs into an operation argument map.
func parseArgs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, expected key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}

func newOperationQueueCommand() *cobra.Command {
	var (
		agentID  string
		opType   string
		operand  string
		argPairs []string
		deps     []string
		operator string
	)

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue an operation for an agent",
		Example: `  # Ask agent-1 to update its flow
  c2d operation queue --agent agent-1 --type UPDATE --operand flow --arg flowId=f-42

  # Restart a component
  c2d op queue --agent agent-1 --type RESTART --operand processor --arg name=LogAttribute`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opArgs, err := parseArgs(argPairs)
			if err != nil {
				return err
			}

			if operator == "" {
				operator = os.Getenv("USER")
			}

			svc, b, err := openFleet(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			op, err := svc.CreateOperation(cmd.Context(), &model.OperationRequest{
				TargetAgentIdentifier: agentID,
				OperatorName:          operator,
				Operation: &model.C2Operation{
					Operation:    opType,
					Operand:      operand,
					Args:         opArgs,
					Dependencies: deps,
				},
			})
			if err != nil {
				return err
			}

			log.Info().
				Str("operation_id", op.Identifier).
				Str("agent_id", agentID).
				Str("type", opType).
				Msg("Operation queued")

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), op)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Queued operation %s for agent %s\n", op.Identifier, agentID)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "target agent identifier")
	cmd.Flags().StringVar(&opType, "type", "", "operation type (e.g. UPDATE, START, STOP)")
	cmd.Flags().StringVar(&operand, "operand", "", "operation operand")
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "operation argument as key=value (repeatable)")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "identifiers of operations this one depends on")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded on the request (default $USER)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newOperationListCommand() *cobra.Command {
	var agentID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List operation requests",
		Example: `  # All operations
  c2d operation list

  # Operations for one agent, as JSON
  c2d operation list --agent agent-1 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, b, err := openFleet(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			var ops []*model.OperationRequest
			if agentID != "" {
				ops, err = svc.GetOperationsByAgent(cmd.Context(), agentID)
			} else {
				ops, err = svc.GetOperations(cmd.Context())
			}
			if err != nil {
				return err
			}

			sort.Slice(ops, func(i, j int) bool { return ops[i].Created.Before(ops[j].Created) })

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), ops)
			}

			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				opType, operand := "-", "-"
				if op.Operation != nil {
					opType, operand = op.Operation.Operation, op.Operation.Operand
				}
				rows = append(rows, []string{
					op.Identifier, op.TargetAgentIdentifier, opType, operand, string(op.State), formatTime(op.Created),
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"ID", "AGENT", "TYPE", "OPERAND", "STATE", "CREATED"}, rows)
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "only operations targeting this agent")

	return cmd
}
