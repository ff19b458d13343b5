// valvectl is a command-line client for the valve controller.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"valve-go-home/internal/client"
	"valve-go-home/internal/store"
	"valve-go-home/internal/valve"
)

var version = "dev"

type cli struct {
	server  string
	timeout time.Duration
	asJSON  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "valvectl",
		Short:         "Valve controller CLI",
		Long:          "Command-line tool for queueing valve commands and inspecting device state on the valve controller.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.server, "server", "s", "http://localhost:5000", "Controller base URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 5*time.Second, "Request timeout")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Print raw JSON")

	root.AddCommand(
		&cobra.Command{
			Use:   "devices",
			Short: "List all devices",
			Args:  cobra.NoArgs,
			RunE:  c.listDevices,
		},
		&cobra.Command{
			Use:   "config <device-id>",
			Short: "Show one device configuration",
			Args:  cobra.ExactArgs(1),
			RunE:  c.showConfig,
		},
		&cobra.Command{
			Use:   "set <device-id> <command>",
			Short: "Queue a command (percent_0|25|50|75|100 or maintenance)",
			Args:  cobra.ExactArgs(2),
			RunE:  c.setCommand,
		},
		&cobra.Command{
			Use:   "status <device-id>",
			Short: "Show the last reported status",
			Args:  cobra.ExactArgs(1),
			RunE:  c.showStatus,
		},
		&cobra.Command{
			Use:   "zones",
			Short: "List zones and their devices",
			Args:  cobra.NoArgs,
			RunE:  c.listZones,
		},
		c.addCmd(),
		c.maintenanceCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "valvectl %s\n", version)
			},
		},
	)
	return root
}

func (c *cli) client() (*client.Client, error) {
	return client.New(c.server, c.timeout)
}

func (c *cli) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) listDevices(cmd *cobra.Command, args []string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	devs, err := cl.Devices(c.ctx(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if c.asJSON {
		return writeJSON(out, devs)
	}

	ids := make([]string, 0, len(devs))
	for id := range devs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tZONE\tMODEL\tPINS\tPOSITION\tLAST COMMAND\tMAINTENANCE")
	fmt.Fprintln(w, "--\t----\t-----\t----\t--------\t------------\t-----------")
	for _, id := range ids {
		dev := devs[id]
		zone := dev.Zone
		if zone == "" {
			zone = "-"
		}
		model := dev.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\t%s\n",
			id, zone, model, dev.PinRelayOpen, dev.PinRelayClose,
			positionString(dev.Status), lastCommandString(dev.Status), maintenanceString(dev))
	}
	return w.Flush()
}

func (c *cli) showConfig(cmd *cobra.Command, args []string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	dev, err := cl.Config(c.ctx(cmd), args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), dev)
}

func (c *cli) setCommand(cmd *cobra.Command, args []string) error {
	id, command := args[0], args[1]
	if !valve.Command(command).Valid() {
		return fmt.Errorf("invalid command %q (want percent_0, percent_25, percent_50, percent_75, percent_100 or maintenance)", command)
	}
	cl, err := c.client()
	if err != nil {
		return err
	}
	if err := cl.SetCommand(c.ctx(cmd), id, command); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "command '%s' set for %s\n", command, id)
	return nil
}

func (c *cli) showStatus(cmd *cobra.Command, args []string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	st, err := cl.Status(c.ctx(cmd), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if c.asJSON {
		if st == nil {
			return writeJSON(out, struct{}{})
		}
		return writeJSON(out, st)
	}
	if st == nil {
		fmt.Fprintf(out, "%s: no status reported\n", args[0])
		return nil
	}
	fmt.Fprintf(out, "%s: position %s, last command %s\n", args[0], positionString(st), lastCommandString(st))
	return nil
}

func (c *cli) listZones(cmd *cobra.Command, args []string) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	zones, err := cl.Zones(c.ctx(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if c.asJSON {
		return writeJSON(out, zones)
	}

	names := make([]string, 0, len(zones))
	for name := range zones {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tCOLOR\tDEVICES")
	for _, name := range names {
		z := zones[name]
		fmt.Fprintf(w, "%s\t%s\t%v\n", name, z.Color, z.Devices)
	}
	return w.Flush()
}

func (c *cli) addCmd() *cobra.Command {
	var dev store.DeviceConfig
	cmd := &cobra.Command{
		Use:   "add <device-id>",
		Short: "Register or replace a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev.ID = args[0]
			cl, err := c.client()
			if err != nil {
				return err
			}
			if err := cl.AddDevice(c.ctx(cmd), &dev); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "device %s added\n", dev.ID)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&dev.PinRelayOpen, "open-pin", 0, "Relay pin that drives the valve open")
	f.IntVar(&dev.PinRelayClose, "close-pin", 0, "Relay pin that drives the valve closed")
	f.StringVar(&dev.Zone, "zone", "", "Zone name")
	f.StringVar(&dev.ZoneColor, "color", "", "Zone color (default #cccccc)")
	f.StringVar(&dev.Model, "model", "", "Valve model (default hl2102)")
	cmd.MarkFlagRequired("open-pin")
	cmd.MarkFlagRequired("close-pin")
	return cmd
}

func (c *cli) maintenanceCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "maintenance",
		Short: "Show or change a device's maintenance schedule",
	}

	get := &cobra.Command{
		Use:   "get <device-id>",
		Short: "Show the maintenance schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			m, err := cl.Maintenance(c.ctx(cmd), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if c.asJSON {
				return writeJSON(out, m)
			}
			state := "disabled"
			if m.Enabled {
				state = "enabled"
			}
			fmt.Fprintf(out, "%s: %s, %s at %s\n", args[0], state, m.Frequency, m.Time)
			return nil
		},
	}

	var next client.Maintenance
	set := &cobra.Command{
		Use:   "set <device-id>",
		Short: "Change the maintenance schedule; unset flags keep their current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := c.client()
			if err != nil {
				return err
			}
			ctx := c.ctx(cmd)
			cur, err := cl.Maintenance(ctx, args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("enabled") {
				cur.Enabled = next.Enabled
			}
			if f.Changed("time") {
				cur.Time = next.Time
			}
			if f.Changed("frequency") {
				cur.Frequency = next.Frequency
			}
			if !cur.Frequency.Valid() {
				return fmt.Errorf("invalid frequency %q (want daily, weekly or monthly)", cur.Frequency)
			}
			if err := cl.SetMaintenance(ctx, args[0], *cur); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "maintenance updated for %s\n", args[0])
			return nil
		},
	}
	set.Flags().BoolVar(&next.Enabled, "enabled", false, "Enable the recurring maintenance cycle")
	set.Flags().StringVar(&next.Time, "time", store.DefaultMaintenanceTime, "Trigger time HH:MM")
	set.Flags().StringVar((*string)(&next.Frequency), "frequency", string(store.FrequencyDaily), "daily, weekly or monthly")

	parent.AddCommand(get, set)
	return parent
}

func positionString(st *store.DeviceStatus) string {
	if st == nil || st.StatusOpenPercent == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *st.StatusOpenPercent)
}

func lastCommandString(st *store.DeviceStatus) string {
	if st == nil || st.LastCommand == "" {
		return "-"
	}
	return st.LastCommand
}

func maintenanceString(dev *store.DeviceConfig) string {
	if !dev.MaintenanceEnabled {
		return "off"
	}
	return fmt.Sprintf("%s %s", dev.MaintenanceFrequency, dev.MaintenanceTime)
}
