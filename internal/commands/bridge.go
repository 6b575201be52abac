package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dotcommander/codexmem/internal/bridge"
)

// NewBridgeCmd runs the stdio MCP bridge. stdout carries JSON-RPC framing;
// all logging stays on stderr (PersistentPreRunE already set that up).
func NewBridgeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "bridge",
		Short: "Run the stdio MCP bridge (search, timeline, get_observations)",
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := os.Executable()
			if err != nil {
				return cmdErr(err)
			}
			return bridge.New(workerBaseURL(cmd), binary).Run(version)
		},
	}
}
