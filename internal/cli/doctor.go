package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forkyard/forkyard/internal/config"
	"github.com/forkyard/forkyard/internal/lifecycle"
	"github.com/forkyard/forkyard/internal/pinstore"
	"github.com/forkyard/forkyard/internal/status"
)

// runDoctor reports pin-artifact coverage and the current status
// verdict for one entry.
func runDoctor(cmd *cobra.Command, deps lifecycle.Deps, entry *config.Entry) error {
	paths := pinstore.Real(deps.PinsRoot, deps.ClonesRoot, entry.Name)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "entry: %s\n", entry.Name)

	head, err := paths.ReadHEAD()
	if err != nil {
		fmt.Fprintf(out, "  HEAD pin: absent (%v)\n", err)
	} else {
		fmt.Fprintf(out, "  HEAD pin: %s\n", head)
	}

	manifest, ok, err := paths.ReadManifest()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(out, "  manifest: absent (reference-only=%v)\n", entry.ReferenceOnly())
	} else {
		fmt.Fprintf(out, "  manifest: base=%s default-branch=%s steps=%d\n",
			manifest.BaseSHA, manifest.DefaultBranch, len(manifest.Steps))
		for i := 1; i <= len(manifest.Steps); i++ {
			_, resOK, rerr := paths.ReadResolution(i)
			if rerr != nil {
				return rerr
			}
			if resOK {
				fmt.Fprintf(out, "    step %d (%s): res-%d.resolution present\n", i, manifest.Steps[i-1].Ref, i)
			} else {
				fmt.Fprintf(out, "    step %d (%s): clean merge, no resolution\n", i, manifest.Steps[i-1].Ref)
			}
		}
	}

	patches, err := paths.ListLocalPatches()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  local patches: %d\n", len(patches))
	for _, p := range patches {
		fmt.Fprintf(out, "    %s\n", p)
	}

	res, err := status.Check(deps.Driver, paths, entry.ReferenceOnly(), len(patches) > 0)
	if err != nil {
		return err
	}
	if res.Clean {
		fmt.Fprintln(out, "  status: clean")
	} else {
		fmt.Fprintf(out, "  status: dirty (%s)\n", res.Reason)
	}
	return nil
}
