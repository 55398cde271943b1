package ui

import (
	"cmp"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// PagerOptions controls ToPager.
type PagerOptions struct {
	NoPager bool // --no-pager
}

// ToPager writes a rendered document view through the user's pager when it
// would scroll off screen, and straight to stdout otherwise.
func ToPager(content string, opts PagerOptions) error {
	argv := pagerArgv(opts)
	if argv == nil || fitsScreen(content, terminalHeight()) {
		_, err := io.WriteString(os.Stdout, content)
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 - pager comes from the user's environment
	cmd.Stdin = strings.NewReader(content)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	cmd.Env = os.Environ()
	if os.Getenv("LESS") == "" {
		// keep colors, quit on one screen, leave output behind on exit
		cmd.Env = append(cmd.Env, "LESS=-RFX")
	}
	return cmd.Run()
}

// pagerArgv returns nil when paging is off: --no-pager, REDLINE_NO_PAGER,
// agent mode, or stdout is not a terminal.
func pagerArgv(opts PagerOptions) []string {
	if opts.NoPager || os.Getenv("REDLINE_NO_PAGER") != "" || IsAgentMode() {
		return nil
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return pagerCommand()
}

// pagerCommand splits REDLINE_PAGER, then PAGER, then "less" into argv.
func pagerCommand() []string {
	argv := strings.Fields(cmp.Or(os.Getenv("REDLINE_PAGER"), os.Getenv("PAGER"), "less"))
	if len(argv) == 0 {
		return nil
	}
	return argv
}

// fitsScreen reports whether content leaves room for the shell prompt on a
// terminal height lines tall. Unknown heights never fit.
func fitsScreen(content string, height int) bool {
	if height <= 0 {
		return false
	}
	lines := strings.Count(strings.TrimSuffix(content, "\n"), "\n") + 1
	return lines < height
}

func terminalHeight() int {
	_, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return h
}
