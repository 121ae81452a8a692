package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/haivivi/earshot/cmd/earshot/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(build.String())
		if IsVerbose() {
			fmt.Printf("  go:     %s\n", runtime.Version())
			if cfg, err := GetConfig(); err == nil {
				if cfg.Path() != "" {
					fmt.Printf("  config: %s\n", cfg.Path())
				} else {
					fmt.Printf("  config: (defaults)\n")
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
