package commands

import (
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/c2fleet/pkg/model"
)

func newFleetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fleet",
		Short: "Inspect the fleet inventory",
		Long: `Inspect the devices, agents and agent classes registered from heartbeats.`,
	}

	cmd.AddCommand(newFleetAgentsCommand())
	cmd.AddCommand(newFleetDevicesCommand())
	cmd.AddCommand(newFleetClassesCommand())

	return cmd
}

func newFleetAgentsCommand() *cobra.Command {
	var className string

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, b, err := openFleet(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			var agents []*model.Agent
			if className != "" {
				agents, err = svc.GetAgentsByClass(cmd.Context(), className)
			} else {
				agents, err = svc.GetAgents(cmd.Context())
			}
			if err != nil {
				return err
			}
			sort.Slice(agents, func(i, j int) bool { return agents[i].Identifier < agents[j].Identifier })

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), agents)
			}

			rows := make([][]string, 0, len(agents))
			for _, a := range agents {
				rows = append(rows, []string{
					a.Identifier, orDash(a.AgentClass), orDash(a.AgentManifestID), formatTime(a.FirstSeen), formatTime(a.LastSeen),
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"ID", "CLASS", "MANIFEST", "FIRST SEEN", "LAST SEEN"}, rows)
		},
	}

	cmd.Flags().StringVar(&className, "class", "", "only agents of this class")

	return cmd
}

func newFleetDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, b, err := openFleet(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			devices, err := svc.GetDevices(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(devices, func(i, j int) bool { return devices[i].Identifier < devices[j].Identifier })

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), devices)
			}

			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				arch, cores, ip := "-", "-", "-"
				if d.SystemInfo != nil {
					arch, cores = orDash(d.SystemInfo.MachineArch), strconv.Itoa(d.SystemInfo.VCores)
				}
				if d.NetworkInfo != nil {
					ip = orDash(d.NetworkInfo.IPAddress)
				}
				rows = append(rows, []string{
					d.Identifier, orDash(d.Name), arch, cores, ip, formatTime(d.FirstSeen), formatTime(d.LastSeen),
				})
			}
			return printTable(cmd.OutOrStdout(), []string{"ID", "NAME", "ARCH", "VCORES", "IP", "FIRST SEEN", "LAST SEEN"}, rows)
		},
	}
}

func newFleetClassesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List agent classes",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, b, err := openFleet(cmd.Context())
			if err != nil {
				return err
			}
			defer b.close()

			classes, err := svc.GetAgentClasses(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(classes, func(i, j int) bool { return classes[i].Name < classes[j].Name })

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), classes)
			}

			rows := make([][]string, 0, len(classes))
			for _, c := range classes {
				manifests := append([]string(nil), c.ManifestIDs...)
				sort.Strings(manifests)
				rows = append(rows, []string{c.Name, orDash(strings.Join(manifests, ",")), orDash(c.FlowURI)})
			}
			return printTable(cmd.OutOrStdout(), []string{"NAME", "MANIFESTS", "FLOW"}, rows)
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
