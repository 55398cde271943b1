package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/ui"
)

var acceptCmd = &cobra.Command{
	Use:     "accept [block-id...]",
	GroupID: "review",
	Short:   "Accept pending changes",
	Long: `Accept pending changes by block id, or every pending change with --all.
Accepting an insert or rewrite keeps the new content; accepting a delete
removes the block.`,
	Run: func(cmd *cobra.Command, args []string) {
		runResolve(cmd, args, true)
	},
}

var rejectCmd = &cobra.Command{
	Use:     "reject [block-id...]",
	GroupID: "review",
	Short:   "Reject pending changes",
	Long: `Reject pending changes by block id, or every pending change with --all.
Rejecting an insert removes it; rejecting a rewrite restores the original
content; rejecting a delete keeps the block.`,
	Run: func(cmd *cobra.Command, args []string) {
		runResolve(cmd, args, false)
	},
}

func init() {
	for _, c := range []*cobra.Command{acceptCmd, rejectCmd} {
		c.Flags().Bool("all", false, "Resolve every pending change")
		c.ValidArgsFunction = pendingIDCompletion
		rootCmd.AddCommand(c)
	}
}

type resolveResult struct {
	Action   string            `json:"action"`
	Resolved int               `json:"resolved"`
	Failed   map[string]string `json:"failed,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string, accept bool) {
	all, _ := cmd.Flags().GetBool("all")
	if all == (len(args) > 0) {
		FatalError("pass block ids or --all")
	}
	action := "reject"
	if accept {
		action = "accept"
	}

	ctx := rootCtx
	b := getBackend(ctx)
	out := resolveResult{Action: action}

	if all {
		var n int
		var err error
		if accept {
			n, err = b.AcceptAll(ctx)
		} else {
			n, err = b.RejectAll(ctx)
		}
		if err != nil {
			fail(err)
		}
		out.Resolved = n
	} else {
		for _, id := range args {
			var n int
			var err error
			if accept {
				n, err = b.Accept(ctx, id)
			} else {
				n, err = b.Reject(ctx, id)
			}
			if err != nil {
				if out.Failed == nil {
					out.Failed = map[string]string{}
				}
				out.Failed[id] = err.Error()
				continue
			}
			out.Resolved += n
		}
	}

	if jsonOutput {
		outputJSON(out)
	} else {
		verb := "Accepted"
		if !accept {
			verb = "Rejected"
		}
		icon := ui.RenderPassIcon()
		if out.Resolved == 0 {
			icon = ui.RenderWarnIcon()
		}
		fmt.Printf("%s %s %d pending change(s)\n", icon, verb, out.Resolved)
		for id, msg := range out.Failed {
			fmt.Printf("  %s %s: %s\n", ui.RenderFailIcon(), id, msg)
		}
	}
	if len(out.Failed) > 0 && out.Resolved == 0 {
		closeBackend()
		os.Exit(1)
	}
}

// pendingIDCompletion completes block ids of pending changes.
func pendingIDCompletion(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	setupSignalContext()
	applyViperOverrides(cmd)
	c := connectServer(rootCtx)
	if c == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	list, err := c.Pending(rootCtx)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID+"\t"+string(p.Status)+": "+ui.TruncateSimple(ui.FirstLine(p.Text), 40))
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}
