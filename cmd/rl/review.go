package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steveyegge/redline/internal/types"
	"github.com/steveyegge/redline/internal/ui"
)

const (
	reviewAccept = "accept"
	reviewReject = "reject"
	reviewSkip   = "skip"
	reviewQuit   = "quit"
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	GroupID: "review",
	Short:   "Step through pending changes interactively",
	Long: `Walk the pending changes in document order and accept, reject or skip each
one. Decisions apply immediately.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if !term.IsTerminal(int(os.Stdin.Fd())) || ui.IsAgentMode() {
			FatalErrorWithHint("rl review needs an interactive terminal",
				"Use 'rl pending' with 'rl accept <id>' or 'rl reject <id>'")
		}

		ctx := rootCtx
		b := getBackend(ctx)
		list, err := b.Pending(ctx)
		if err != nil {
			fail(err)
		}
		if len(list) == 0 {
			fmt.Println(ui.RenderInfoIcon(), ui.RenderMuted("No pending changes"))
			return
		}

		var accepted, rejected, skipped int
		seen := map[string]bool{}
	loop:
		for i, p := range list {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true

			choice, err := askReview(i+1, len(list), p)
			if err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					break
				}
				FatalError("form error: %v", err)
			}

			switch choice {
			case reviewAccept:
				if _, err := b.Accept(ctx, p.ID); err != nil {
					WarnError("accept %s: %v", p.ID, err)
					continue
				}
				accepted++
			case reviewReject:
				if _, err := b.Reject(ctx, p.ID); err != nil {
					WarnError("reject %s: %v", p.ID, err)
					continue
				}
				rejected++
			case reviewSkip:
				skipped++
			case reviewQuit:
				break loop
			}
		}

		fmt.Printf("%s Accepted %d, rejected %d, skipped %d\n", ui.RenderPassIcon(), accepted, rejected, skipped)
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}

func askReview(n, total int, p types.PendingNode) (string, error) {
	choice := reviewAccept
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("%d/%d  %s %s", n, total, p.Status, p.ID)).
				Description(reviewDescription(p)),
			huh.NewSelect[string]().
				Title("Decision").
				Options(
					huh.NewOption("Accept", reviewAccept),
					huh.NewOption("Reject", reviewReject),
					huh.NewOption("Skip", reviewSkip),
					huh.NewOption("Stop reviewing", reviewQuit),
				).
				Value(&choice),
		),
	).WithTheme(huh.ThemeDracula())
	return choice, form.Run()
}

func reviewDescription(p types.PendingNode) string {
	width := min(ui.TerminalWidth(80), 100) - 4
	var b strings.Builder
	switch p.Status {
	case types.StatusRewrite:
		if p.Original != "" {
			b.WriteString("was:\n")
			b.WriteString(ui.WrapText(ui.TruncateChars(p.Original, 600, 250), width))
			b.WriteString("\n\nnow:\n")
		}
	case types.StatusDelete:
		b.WriteString("remove:\n")
	case types.StatusInsert:
		b.WriteString("add:\n")
	}
	b.WriteString(ui.WrapText(ui.TruncateChars(p.Text, 600, 250), width))
	return b.String()
}
