package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/mdstore"
	"github.com/steveyegge/redline/internal/types"
	"github.com/steveyegge/redline/internal/ui"
)

var editCmd = &cobra.Command{
	Use:     "edit <block-id>",
	GroupID: "changes",
	Short:   "Propose find/replace or formatting edits inside one block",
	Long: `Propose fine-grained edits within a block. Each --find is matched against the
block's text; the nth --replace pairs with the nth --find. With --mark the
matched text is formatted instead of replaced.

  rl edit abc123 --find "teh" --replace "the"
  rl edit abc123 --find "important" --mark bold
  rl edit abc123 --find "docs" --mark link --href https://example.com/docs`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		finds, _ := cmd.Flags().GetStringArray("find")
		replaces, _ := cmd.Flags().GetStringArray("replace")
		mark, _ := cmd.Flags().GetString("mark")
		href, _ := cmd.Flags().GetString("href")
		unmark, _ := cmd.Flags().GetString("unmark")

		edits, err := buildTextEdits(finds, replaces, mark, href, unmark)
		if err != nil {
			FatalError("%v", err)
		}

		ctx := rootCtx
		res, err := getBackend(ctx).ApplyTextEdits(ctx, args[0], edits)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(res)
			return
		}
		fmt.Printf("%s Applied %d of %d edits to %s\n", ui.RenderPassIcon(), res.Applied, len(edits), ui.RenderAccent(res.NodeID))
		for _, m := range res.Missed {
			fmt.Printf("  %s no match for %q\n", ui.RenderWarnIcon(), m)
		}
	},
}

func init() {
	editCmd.Flags().StringArray("find", nil, "Text to find (repeatable)")
	editCmd.Flags().StringArray("replace", nil, "Replacement for the matching --find (repeatable)")
	editCmd.Flags().String("mark", "", "Add a mark to matched text: bold, italic, strike, code, link")
	editCmd.Flags().String("href", "", "Link target for --mark link")
	editCmd.Flags().String("unmark", "", "Remove a mark from matched text")
	rootCmd.AddCommand(editCmd)
}

var markTypes = []string{mdstore.MarkBold, mdstore.MarkItalic, mdstore.MarkStrike, mdstore.MarkCode, mdstore.MarkLink}

func buildTextEdits(finds, replaces []string, mark, href, unmark string) ([]types.TextEdit, error) {
	if len(finds) == 0 {
		return nil, fmt.Errorf("at least one --find is required")
	}
	if len(replaces) > len(finds) {
		return nil, fmt.Errorf("%d --replace values for %d --find values", len(replaces), len(finds))
	}
	if len(replaces) == 0 && mark == "" && unmark == "" {
		return nil, fmt.Errorf("nothing to do: pass --replace, --mark or --unmark")
	}
	for _, m := range []string{mark, unmark} {
		if m != "" && !validMark(m) {
			return nil, fmt.Errorf("unknown mark %q (want one of %s)", m, strings.Join(markTypes, ", "))
		}
	}
	if mark == mdstore.MarkLink && href == "" {
		return nil, fmt.Errorf("--mark link needs --href")
	}

	edits := make([]types.TextEdit, len(finds))
	for i, f := range finds {
		if f == "" {
			return nil, fmt.Errorf("--find must not be empty")
		}
		edits[i].Find = f
		if i < len(replaces) {
			r := replaces[i]
			edits[i].Replace = &r
		}
		if mark != "" {
			m := types.Mark{Type: mark}
			if href != "" {
				m.Attrs = map[string]any{"href": href}
			}
			edits[i].AddMark = &m
		}
		edits[i].RemoveMark = unmark
	}
	return edits, nil
}

func validMark(m string) bool {
	for _, t := range markTypes {
		if m == t {
			return true
		}
	}
	return false
}
