package main

import (
	"fmt"

	"strata/internal/appversion"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root strata command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "strata",
		Short:         "Strata persistent memory engine",
		Long:          "strata records agent work as a call-stack of frames, bundles tool\ncalls into traces, and distills important frames into cross-session\nshared context.",
		Version:       fmt.Sprintf("strata %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newOpenCmd(),
		newCloseCmd(),
		newEventCmd(),
		newAnchorCmd(),
		newContextCmd(),
		newRecallCmd(),
		newDiscoverCmd(),
		newTracesCmd(),
		newSyncCmd(),
		newWatchCmd(),
		newStatusCmd(),
		newHandoffCmd(),
		newHandoffsCmd(),
	)

	return cmd
}
