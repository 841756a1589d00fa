package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/dispatch/internal/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List backend strategies and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		registry := backend.NewRegistry()
		out := cmd.OutOrStdout()

		for _, family := range backend.Families() {
			s := registry.Resolve(family)
			caps := s.Capabilities()

			marker := " "
			if family == cfg.Backend {
				marker = "*"
			}

			shapes := make([]string, 0, len(caps.PreferredShapes))
			for _, shape := range caps.PreferredShapes {
				shapes = append(shapes, string(shape))
			}

			fmt.Fprintf(out, "%s %s\n", marker, s.Name())
			fmt.Fprintf(out, "    continuation: %v\n", caps.SupportsContinuation)
			fmt.Fprintf(out, "    structured output: %v\n", caps.SupportsStructuredOutput)
			fmt.Fprintf(out, "    preferred shapes: %s\n", strings.Join(shapes, ", "))
			fmt.Fprintf(out, "    max context files: %d\n", caps.MaxContextFiles)
		}
		fmt.Fprintf(out, "\nAny other backend name is run as a generic CLI wrapper.\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
