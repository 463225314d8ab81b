// cmd/eink-power-cli/ports.go
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"eink-power-cli/internal/config"
	"eink-power-cli/internal/discovery"
	"eink-power-cli/internal/protocol"
	"eink-power-cli/internal/service"
)

func (a *Application) portsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and USB-UART bridges",
		Long: "List serial ports that may reach the controller. --probe sends \"version\" to each\n" +
			"port and marks those that answer with a shell prompt. Network bridges listed under\n" +
			"discovery.tcp_endpoints are checked too.",
		Args: cobra.NoArgs,
		RunE: a.runPorts,
	}

	cmd.Flags().Bool("probe", false, "send \"version\" to each serial port")
	cmd.Flags().Bool("usb", false, "also list USB-UART bridges through libusb")
	cmd.Flags().Bool("all-usb", false, "with --usb, list every USB device")
	cmd.Flags().Bool("find", false, "probe and print only the first responding port")
	return cmd
}

func (a *Application) runPorts(cmd *cobra.Command, _ []string) error {
	probe, _ := cmd.Flags().GetBool("probe")
	withUSB, _ := cmd.Flags().GetBool("usb")
	allUSB, _ := cmd.Flags().GetBool("all-usb")
	find, _ := cmd.Flags().GetBool("find")

	discoveryService := service.NewDiscoveryService(a.config, service.DiscoveryOptions{
		Probe:             probe || find,
		USB:               withUSB,
		IncludeUnknownUSB: allUSB,
	}, a.logger)

	if find {
		port, err := discoveryService.FindController(cmd.Context())
		if err != nil {
			return fmt.Errorf("%w: %v", protocol.ErrConnection, err)
		}
		fmt.Fprintln(a.stdout, port.Name)
		return nil
	}

	ports, err := discoveryService.ScanPorts(cmd.Context(), &service.ScanRequest{ScanType: "all"})
	if err != nil {
		return err
	}

	switch a.config.Output.Format {
	case config.FormatJSON:
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if ports == nil {
			ports = []*discovery.DiscoveredPort{}
		}
		return enc.Encode(ports)
	case config.FormatCSV:
		return writePortsCSV(a, ports)
	default:
		return writePortsTable(a, ports, probe)
	}
}

func writePortsTable(a *Application, ports []*discovery.DiscoveredPort, probed bool) error {
	if len(ports) == 0 {
		if !a.quiet {
			fmt.Fprintln(a.stderr, "No ports found")
		}
		return nil
	}

	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	header := "PORT\tSOURCE\tBRIDGE\tVID:PID\tSERIAL"
	if probed {
		header += "\tCONTROLLER"
	}
	if !a.quiet {
		fmt.Fprintln(tw, header)
	}

	for _, p := range ports {
		ids := ""
		if p.VendorID != "" {
			ids = p.VendorID + ":" + p.ProductID
		}
		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%s", p.Name, p.Source, dash(p.Bridge), dash(ids), dash(p.SerialNumber))
		if probed {
			row += "\t" + controllerColumn(p)
		}
		fmt.Fprintln(tw, row)
	}
	return tw.Flush()
}

func writePortsCSV(a *Application, ports []*discovery.DiscoveredPort) error {
	w := csv.NewWriter(a.stdout)
	w.Write([]string{"port", "source", "bridge", "vendor_id", "product_id", "serial_number", "responding", "firmware"})
	for _, p := range ports {
		w.Write([]string{p.Name, p.Source, p.Bridge, p.VendorID, p.ProductID, p.SerialNumber,
			strconv.FormatBool(p.Responding), p.Firmware})
	}
	w.Flush()
	return w.Error()
}

func controllerColumn(p *discovery.DiscoveredPort) string {
	switch {
	case p.Responding && p.Firmware != "":
		return "yes (" + p.Firmware + ")"
	case p.Responding:
		return "yes"
	default:
		return "no"
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
