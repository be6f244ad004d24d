package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/modserve/internal/graph"
	"github.com/conneroisu/modserve/internal/plugins"
	"github.com/conneroisu/modserve/internal/plugins/builtin"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List builtin plugins and their capabilities",
	Long: `List the plugins every server instance registers, with the hooks each
one implements. Hook order on this list is registration order: the first
plugin resolving or loading a module wins, transforms run over each other's
output.`,
	RunE: runPlugins,
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

func runPlugins(cmd *cobra.Command, args []string) error {
	g := graph.NewModuleGraph()
	registered := []plugins.Plugin{
		builtin.NewCSS(),
		builtin.NewImportRewrite(nil, g),
	}

	title := cases.Title(language.English)
	for _, p := range registered {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", title.String(strings.ReplaceAll(p.Name, "-", " ")))
		fmt.Fprintf(cmd.OutOrStdout(), "  name:  %s\n", p.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  hooks: %s\n\n", strings.Join(pluginHooks(p), ", "))
	}
	return nil
}

func pluginHooks(p plugins.Plugin) []string {
	var hooks []string
	if p.ResolveID != nil {
		hooks = append(hooks, "resolveId")
	}
	if p.Load != nil {
		hooks = append(hooks, "load")
	}
	if p.Transform != nil {
		hooks = append(hooks, "transform")
	}
	if p.ConfigureServer != nil {
		hooks = append(hooks, "configureServer")
	}
	if p.HandleUpdate != nil {
		hooks = append(hooks, "handleUpdate")
	}
	if len(hooks) == 0 {
		hooks = append(hooks, "none")
	}
	return hooks
}
