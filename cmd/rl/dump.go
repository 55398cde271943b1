package main

import (
	"fmt"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
)

var dumpCmd = &cobra.Command{
	Use:     "dump [block-id]",
	GroupID: "docs",
	Short:   "Dump the document tree for debugging",
	Long: `Print the in-memory tree, or one block's subtree, with every attribute
including pending baselines. Use --json for the wire form.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := rootCtx
		doc, err := getBackend(ctx).Document(ctx)
		if err != nil {
			fail(err)
		}

		var subject any = doc
		if len(args) == 1 {
			n := tree.Lookup(doc.Root, args[0])
			if n == nil {
				fail(fmt.Errorf("dump %q: %w", args[0], types.ErrNodeNotFound))
			}
			subject = n
		}
		if jsonOutput {
			outputJSON(subject)
			return
		}
		fmt.Println(dumpConfig.Sdump(subject))
	},
}

var dumpConfig = litter.Options{
	HidePrivateFields: true,
	HideZeroValues:    true,
	Compact:           false,
	StripPackageNames: true,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
