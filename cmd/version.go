package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"example.com/backstage/services/provenance/config"
)

// BuildInfo contains information about the build
var BuildInfo struct {
	GitCommit string
	BuildTime string
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version information",
	Long:  `Display the version, build information, and runtime environment of the provenance service.`,
	// version needs no configuration
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Provenance Service")
		fmt.Fprintln(out, "==================")
		fmt.Fprintf(out, "Version:    %s\n", config.Version)
		fmt.Fprintf(out, "Git Commit: %s\n", orUnknown(BuildInfo.GitCommit))
		fmt.Fprintf(out, "Built:      %s\n", orUnknown(BuildInfo.BuildTime))
		fmt.Fprintf(out, "Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
