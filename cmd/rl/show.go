package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/tree"
	"github.com/steveyegge/redline/internal/ui"
)

var showCmd = &cobra.Command{
	Use:     "show",
	GroupID: "review",
	Short:   "Show the document with pending changes marked",
	Long: `Show the document. Blocks with pending changes are marked in the gutter:
+ insert, ~ rewrite, - delete. Rewrites also show their original text.

With no pending changes the document is rendered as Markdown.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		showIDs, _ := cmd.Flags().GetBool("ids")
		onlyPending, _ := cmd.Flags().GetBool("only-pending")
		raw, _ := cmd.Flags().GetBool("raw")
		noPager, _ := cmd.Flags().GetBool("no-pager")

		ctx := rootCtx
		doc, err := getBackend(ctx).Document(ctx)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(doc)
			return
		}

		var out string
		switch {
		case raw:
			data, err := mdstore.Encode(doc, mdstore.Options{})
			if err != nil {
				fail(err)
			}
			out = string(data)
		case showIDs || onlyPending || tree.HasPending(doc.Root):
			out = documentHeader(doc.Title, doc.Path) + ui.RenderChanges(doc.Root, ui.ChangeViewOptions{
				ShowIDs:     showIDs,
				OnlyPending: onlyPending,
				Width:       ui.TerminalWidth(80),
			})
		default:
			out = documentHeader(doc.Title, doc.Path) + ui.RenderMarkdown(mdstore.Body(doc.Root))
		}
		if err := ui.ToPager(out, ui.PagerOptions{NoPager: noPager}); err != nil {
			WarnError("pager failed: %v", err)
			fmt.Print(out)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "review",
	Short:   "Show the document, pending count and write-lock state",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := rootCtx
		b := getBackend(ctx)
		st, err := b.Status(ctx)
		if err != nil {
			fail(err)
		}
		_, remote := b.(remoteBackend)
		if jsonOutput {
			outputJSON(struct {
				Status any  `json:"status"`
				Server bool `json:"server"`
			}{st, remote})
			return
		}

		mode := "direct"
		if remote {
			mode = "rl serve"
		}
		title := st.Title
		if title == "" {
			title = ui.RenderMuted("(untitled)")
		}
		fmt.Printf("%s %s\n", ui.RenderCategory("document"), title)
		fmt.Printf("  path     %s\n", displayPath(st.Path))
		fmt.Printf("  doc id   %s\n", st.DocID)
		fmt.Printf("  blocks   %d\n", st.Blocks)
		pending := fmt.Sprint(st.Pending)
		if st.Pending > 0 {
			pending = ui.RenderWarn(pending)
		}
		fmt.Printf("  pending  %s\n", pending)
		if st.Dirty {
			fmt.Printf("  unsaved  %s\n", ui.RenderWarn("yes"))
		}
		if st.LockHeld {
			fmt.Printf("  lock     held for %s\n", st.LockRemaining.Round(100*time.Millisecond))
		}
		fmt.Printf("  via      %s\n", mode)
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "review",
	Short:   "List pending changes",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := rootCtx
		list, err := getBackend(ctx).Pending(ctx)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(list)
			return
		}
		fmt.Print(ui.RenderPendingList(list, ui.TerminalWidth(80)))
	},
}

func init() {
	showCmd.Flags().Bool("ids", false, "Show block ids")
	showCmd.Flags().Bool("only-pending", false, "Show only blocks with pending changes")
	showCmd.Flags().Bool("raw", false, "Print the file as it would be saved")
	showCmd.Flags().Bool("no-pager", false, "Do not pipe output through a pager")
	rootCmd.AddCommand(showCmd, statusCmd, pendingCmd)
}

func documentHeader(title, path string) string {
	var parts []string
	if title != "" {
		parts = append(parts, ui.RenderCategory(title))
	}
	if path != "" {
		parts = append(parts, ui.RenderMuted(path))
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "  ") + "\n" + ui.RenderSeparator() + "\n\n"
}
