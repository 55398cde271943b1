package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/redline/internal/api"
	"github.com/steveyegge/redline/internal/store"
	"github.com/steveyegge/redline/internal/types"
	"github.com/steveyegge/redline/internal/ui"
)

var newCmd = &cobra.Command{
	Use:     "new [path]",
	GroupID: "docs",
	Short:   "Create a new document",
	Long: `Create a new empty document at path. With a running server the server
switches to it. --temp creates an unnamed document in the state directory.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title, _ := cmd.Flags().GetString("title")
		temp, _ := cmd.Flags().GetBool("temp")
		if temp == (len(args) == 1) {
			FatalError("pass a path or --temp")
		}
		req := api.OpenRequest{Title: title, Create: !temp, Temp: temp}
		if len(args) == 1 {
			req.Path = args[0]
		}

		doc, err := openDocument(rootCtx, req)
		if err != nil {
			fail(err)
		}
		reportOpened("Created", doc)
	},
}

var openCmd = &cobra.Command{
	Use:     "open <path>",
	GroupID: "docs",
	Short:   "Switch the server to another document",
	Long: `Switch the running server to the document at path. The current document
is saved first. Without a server this only checks that the file loads.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := openDocument(rootCtx, api.OpenRequest{Path: args[0]})
		if err != nil {
			fail(err)
		}
		reportOpened("Opened", doc)
	},
}

var saveCmd = &cobra.Command{
	Use:     "save",
	GroupID: "docs",
	Short:   "Write the document to disk now",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := rootCtx
		outcome, err := getBackend(ctx).Save(ctx)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(api.SaveResponse{Outcome: outcome})
			return
		}
		fmt.Printf("%s Save: %s\n", ui.RenderPassIcon(), outcome)
	},
}

func init() {
	newCmd.Flags().String("title", "", "Document title")
	newCmd.Flags().Bool("temp", false, "Create a temporary document (server only)")
	rootCmd.AddCommand(newCmd, openCmd, saveCmd)
}

// openDocument routes to the server when one is running. Without one, new
// files are created in place and temp documents are refused.
func openDocument(ctx context.Context, req api.OpenRequest) (*types.Document, error) {
	if !directMode {
		if c := connectServer(ctx); c != nil {
			return c.Open(ctx, req)
		}
	}
	if req.Temp {
		FatalErrorWithHint("temporary documents need a running server", "Start one with 'rl serve'")
	}

	st := store.New(storeOptions(nil, nil))
	defer func() { _ = st.Close() }()
	if req.Create {
		return st.Create(ctx, req.Path, req.Title)
	}
	return st.Open(ctx, req.Path)
}

func reportOpened(verb string, doc *types.Document) {
	if jsonOutput {
		outputJSON(doc)
		return
	}
	fmt.Printf("%s %s %s %s\n", ui.RenderPassIcon(), verb, displayPath(doc.Path), ui.RenderMuted("("+doc.DocID+")"))
}
