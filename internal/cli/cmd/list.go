package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/Kshitijknk07/CicadaCI/internal/cli/client"
	"github.com/Kshitijknk07/CicadaCI/pkg/api"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipelines or show one pipeline definition",
		Run:   runList,
	}

	cmd.Flags().StringP("name", "n", "", "Pipeline to show")
	cmd.Flags().IntP("version", "v", 0, "Definition version to show with --name (default latest)")

	return cmd
}

func runList(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	name, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt("version")

	if name == "" {
		var pipelines []api.PipelineBrief
		if err := client.Call(http.MethodGet, "/pipeline", nil, &pipelines); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			return
		}
		printJSON(out, pipelines)
		return
	}

	path := "/pipeline/" + url.PathEscape(name)
	if version > 0 {
		path = fmt.Sprintf("%s?version=%d", path, version)
	}
	var detail api.PipelineDetail
	if err := client.Call(http.MethodGet, path, nil, &detail); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "# %s version %d\n%s", detail.Name, detail.Version, detail.Config)
}
