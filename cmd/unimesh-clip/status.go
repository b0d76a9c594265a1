package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"unimesh-clip/internal/configstore"
	"unimesh-clip/internal/discovery"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List mesh devices discovered on the local network",
		Long: `Starts a brief discovery browse and reports every device seen within
the window, then exits. Useful for checking connectivity without leaving a
node running.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	f := cmd.Flags()
	f.Duration("window", 3*time.Second, "how long to browse before reporting")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	configFlag := v.GetString("config")
	store, err := configstore.NewFileStore(configFlag)
	if err != nil {
		return fmt.Errorf("config store: %w", err)
	}
	cfg := store.Get()

	agent := discovery.New(cfg.MdnsServiceName, "cli", cfg.WebsocketPort)

	ctx, cancel := context.WithTimeout(context.Background(), v.GetDuration("window"))
	defer cancel()

	if err := agent.StartDiscovery(ctx); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	<-ctx.Done()

	devices := agent.GetDiscoveredDevices()
	printDevices(devices)
	return nil
}

func printDevices(devices []discovery.Device) {
	if len(devices) == 0 {
		fmt.Println("No devices discovered.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tPORT\tPLATFORM\tLAST SEEN")
	fmt.Fprintln(w, "----\t-------\t----\t--------\t---------")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s ago\n",
			d.Name, d.Address, d.Port, d.Platform,
			time.Since(d.LastSeen).Round(time.Second),
		)
	}
	w.Flush()
}
