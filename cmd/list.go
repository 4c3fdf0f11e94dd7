package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MatteoGuarna/packet-sniffer/capture"
	"github.com/MatteoGuarna/packet-sniffer/capture/device"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List available resources",
	Long:    `List available network interfaces and well-known service ports.`,
	GroupID: "info",
}

var listInterfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List available network interfaces",
	Long: `Display the network interfaces available for packet capture. The
number in front of each name is the value accepted by 'capture --index'.`,
	Example: `  packet-sniffer list interfaces`,
	Aliases: []string{"ifaces", "if"},
	RunE:    runListInterfaces,
}

var listServicesCmd = &cobra.Command{
	Use:     "services",
	Short:   "List well-known service ports",
	Long:    `Display the port to service name table used by --services.`,
	Example: `  packet-sniffer list services`,
	RunE:    runListServices,
}

func init() {
	listCmd.AddCommand(listInterfacesCmd)
	listCmd.AddCommand(listServicesCmd)
}

// runListInterfaces lists available network interfaces
func runListInterfaces(cmd *cobra.Command, args []string) error {
	ifaces, err := device.ListInterfaces()
	if err != nil {
		return fmt.Errorf("error listing interfaces: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available network interfaces:")
	fmt.Fprintln(out, strings.Repeat("-", 60))

	for i, iface := range ifaces {
		fmt.Fprintf(out, "%d. %s\n", i, iface.Name)
		if iface.Description != "" {
			fmt.Fprintf(out, "   Description: %s\n", iface.Description)
		}
		for _, addr := range iface.Addresses {
			fmt.Fprintf(out, "   Address: %s\n", addr.IP)
		}
		fmt.Fprintln(out)
	}

	return nil
}

// runListServices prints the well-known port table
func runListServices(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Port\tService")
	fmt.Fprintln(out, strings.Repeat("-", 30))
	for _, p := range capture.ServicePorts() {
		port := strconv.Itoa(int(p))
		fmt.Fprintf(out, "%s\t%s\n", port, capture.ServiceName(port))
	}
	return nil
}
