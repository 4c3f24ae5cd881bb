package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/stevehiehn/stepwise/internal/mcp"
)

var (
	mcpPipelinesDir string
	mcpEvaluator    string
	mcpFamilies     []string
	mcpSSEAddr      string
	mcpMetricsAddr  string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server (stdio by default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wd, _ := os.Getwd()
		reg, err := registryFor(mcpFamilies)
		if err != nil {
			return err
		}
		srv := mcp.NewServer(wd,
			mcp.WithRegistry(reg),
			mcp.WithEvaluator(mcpEvaluator),
			mcp.WithPipelinesDir(mcpPipelinesDir),
		)
		if mcpSSEAddr != "" {
			fmt.Fprintf(os.Stderr, "stepwise MCP SSE server listening on %s\n", mcpSSEAddr)
			return srv.ServeSSE(mcpSSEAddr)
		}
		if mcpMetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", srv.Collector().Handler())
				if err := http.ListenAndServe(mcpMetricsAddr, mux); err != nil {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()
		}
		return srv.ServeStdio()
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpPipelinesDir, "pipelines", "", "Directory of pipeline documents to expose as tools")
	mcpCmd.Flags().StringVar(&mcpEvaluator, "evaluator", "expr", "Guard evaluator for string when: expressions (expr, jq, lua)")
	mcpCmd.Flags().StringSliceVar(&mcpFamilies, "families", nil, "Operation families to register (default all)")
	mcpCmd.Flags().StringVar(&mcpSSEAddr, "sse", "", "Serve the SSE transport on this address instead of stdio")
	mcpCmd.Flags().StringVar(&mcpMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while using stdio")
	rootCmd.AddCommand(mcpCmd)
}
