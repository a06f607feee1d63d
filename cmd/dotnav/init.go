package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dusk-indust/dotnav/internal/config"
)

// mcpConfig represents the structure of a .mcp.json file.
type mcpConfig struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// dotnavMCPEntry is the MCP server configuration for the dotnav binary.
var dotnavMCPEntry = json.RawMessage(`{
  "type": "stdio",
  "command": "dotnav",
  "args": ["serve"]
}`)

func newInitCmd(g *globalFlags) *cobra.Command {
	var force, withConfig bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Register dotnav in the workspace's .mcp.json",
		Long: `Create or update .mcp.json in the workspace root so that MCP clients
launch 'dotnav serve'. With --config, also write a dotnav.yml listing every
default setting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			abs, err := filepath.Abs(g.Root)
			if err != nil {
				return fmt.Errorf("resolving root: %w", err)
			}
			if withConfig {
				path, written, err := config.WriteTemplate(abs, force)
				if err != nil {
					return err
				}
				if written {
					fmt.Fprintf(cmd.OutOrStdout(), "  created %s\n", dotRelative(abs, path))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "  skipped %s (exists, use --force to overwrite)\n", dotRelative(abs, path))
				}
			}
			return mergeMCPConfig(cmd.OutOrStdout(), filepath.Join(abs, ".mcp.json"), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing entries")
	cmd.Flags().BoolVar(&withConfig, "config", false, "also write a dotnav.yml with the default settings")
	return cmd
}

// mergeMCPConfig creates or merges the dotnav entry into .mcp.json.
func mergeMCPConfig(w io.Writer, mcpPath string, force bool) error {
	var cfg mcpConfig

	data, err := os.ReadFile(mcpPath)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", mcpPath, err)
		}
	}

	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]json.RawMessage)
	}

	if _, exists := cfg.MCPServers["dotnav"]; exists && !force {
		fmt.Fprintln(w, "  skipped .mcp.json dotnav entry (exists, use --force to overwrite)")
		return nil
	}

	cfg.MCPServers["dotnav"] = dotnavMCPEntry

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling .mcp.json: %w", err)
	}

	if err := os.WriteFile(mcpPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", mcpPath, err)
	}

	action := "created"
	if data != nil {
		action = "updated"
	}
	fmt.Fprintf(w, "  %s .mcp.json with dotnav MCP server\n", action)
	return nil
}

// dotRelative returns a display path relative to the project root, prefixed
// with "./".
func dotRelative(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return "./" + rel
}
