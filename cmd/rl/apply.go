package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/api"
	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/types"
	"github.com/steveyegge/redline/internal/ui"
)

var applyCmd = &cobra.Command{
	Use:     "apply [changes.json|-]",
	GroupID: "changes",
	Short:   "Propose inserts, rewrites and deletions",
	Long: `Propose changes to the document. Every applied change stays pending until
it is accepted or rejected.

Changes come either from a JSON file (or stdin with "-") holding an array of
change requests or {"changes": [...]}, or from one flag-built request:

  rl apply --after abc123 --markdown "New paragraph."
  rl apply --rewrite abc123 --markdown "Better wording."
  rl apply --delete abc123`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reqs, err := changeRequestsFromCommand(cmd, args)
		if err != nil {
			FatalError("%v", err)
		}

		ctx := rootCtx
		res, err := getBackend(ctx).ApplyChanges(ctx, reqs)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		printBatch(res)
	},
}

func init() {
	applyCmd.Flags().String("after", "", "Insert after this block id (\"end\" appends)")
	applyCmd.Flags().String("placeholder", "", "Insert in place of this placeholder block id")
	applyCmd.Flags().String("rewrite", "", "Rewrite this block id")
	applyCmd.Flags().String("delete", "", "Delete this block id")
	applyCmd.Flags().String("markdown", "", "Content for insert or rewrite, as Markdown")
	rootCmd.AddCommand(applyCmd)
}

func changeRequestsFromCommand(cmd *cobra.Command, args []string) ([]types.ChangeRequest, error) {
	after, _ := cmd.Flags().GetString("after")
	placeholder, _ := cmd.Flags().GetString("placeholder")
	rewrite, _ := cmd.Flags().GetString("rewrite")
	del, _ := cmd.Flags().GetString("delete")
	md, _ := cmd.Flags().GetString("markdown")

	set := 0
	for _, v := range []string{after, placeholder, rewrite, del} {
		if v != "" {
			set++
		}
	}
	switch {
	case len(args) == 1 && set > 0:
		return nil, fmt.Errorf("pass a changes file or a change flag, not both")
	case len(args) == 1:
		return readChangeRequests(args[0])
	case set == 0:
		return nil, fmt.Errorf("nothing to apply: pass a changes file or one of --after, --placeholder, --rewrite, --delete")
	case set > 1:
		return nil, fmt.Errorf("only one of --after, --placeholder, --rewrite or --delete may be given")
	}

	req := types.ChangeRequest{}
	switch {
	case del != "":
		req.Operation, req.NodeID = types.OpDelete, del
		return []types.ChangeRequest{req}, nil
	case rewrite != "":
		req.Operation, req.NodeID = types.OpRewrite, rewrite
	case after != "":
		req.Operation, req.AfterNodeID = types.OpInsert, after
	default:
		req.Operation, req.NodeID = types.OpInsert, placeholder
	}
	if strings.TrimSpace(md) == "" {
		return nil, fmt.Errorf("--markdown is required for %s", req.Operation)
	}
	blocks, err := markdownBlocks(md)
	if err != nil {
		return nil, err
	}
	req.Content = blocks
	return []types.ChangeRequest{req}, nil
}

// readChangeRequests decodes change requests from a file, or stdin for "-".
func readChangeRequests(path string) ([]types.ChangeRequest, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path) // #nosec G304 - path given on the command line
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var body api.ChangesRequest
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse change requests: %w", err)
	}
	if len(body.Changes) == 0 {
		return nil, fmt.Errorf("no change requests in %s", path)
	}
	return body.Changes, nil
}

// markdownBlocks parses Markdown into unassigned blocks for a change request.
func markdownBlocks(md string) ([]*types.Node, error) {
	res, err := mdstore.Decode([]byte(md+"\n"), mdstore.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse markdown: %w", err)
	}
	blocks := res.Doc.Root.Content
	if len(blocks) == 0 {
		return nil, fmt.Errorf("markdown produced no blocks")
	}
	tree.WalkBlocks(res.Doc.Root, func(n, _ *types.Node, _ int) bool {
		if n.Attrs != nil {
			n.Attrs.ID = ""
		}
		return true
	})
	return blocks, nil
}

func printBatch(res *types.BatchResult) {
	icon := ui.RenderPassIcon()
	if res.AppliedCount == 0 {
		icon = ui.RenderWarnIcon()
	}
	fmt.Printf("%s Applied %d, skipped %d\n", icon, res.AppliedCount, res.SkippedCount)
	if quietFlag {
		return
	}
	for _, c := range res.Changes {
		id := c.NodeID
		if id == "" {
			id = c.AfterNodeID
		}
		switch {
		case c.Duplicate:
			fmt.Printf("  %s %s %s\n", ui.RenderMuted("="), c.Operation, ui.RenderMuted(id+" (duplicate)"))
		case c.Applied:
			fmt.Printf("  %s %s %s\n", ui.RenderPass(ui.IconPass), c.Operation, ui.RenderAccent(id))
		default:
			fmt.Printf("  %s %s %s %s\n", ui.RenderFail(ui.IconFail), c.Operation, id, ui.RenderMuted(c.Error))
		}
	}
}
