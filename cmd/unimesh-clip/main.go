// unimesh-clip: LAN clipboard synchronization over a peer mesh.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"unimesh-clip/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "unimesh-clip",
		Short: "LAN clipboard synchronization over a peer mesh",
		Long: `unimesh-clip keeps the system clipboard in sync across machines on
the same local network. Nodes discover each other over mDNS and exchange
clipboard updates through a WebSocket mesh; there is no central server.

Run "unimesh-clip serve" on every machine that should join the mesh.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("unimesh-clip %s (%s/%s)\n", Version, runtime.GOOS, runtime.GOARCH)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
