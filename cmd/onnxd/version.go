package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"onnxd/internal/runtime"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and available backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "onnxd %s (backends: %s, llama built: %t)\n",
				version, strings.Join(runtime.DefaultRegistry.Names(), ","), runtime.LlamaBuilt())
			return err
		},
	}
}
