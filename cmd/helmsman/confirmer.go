package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/helmsman-dev/helmsman/internal/notify"
)

// terminalConfirmer resolves Ask verdicts at the terminal. When a push
// notifier is configured it also pings registered devices, so a user who
// stepped away learns a run is waiting on them.
type terminalConfirmer struct {
	in       *bufio.Reader
	out      io.Writer
	notifier *notify.Notifier
}

func newTerminalConfirmer(in io.Reader, out io.Writer, notifier *notify.Notifier) *terminalConfirmer {
	return &terminalConfirmer{in: bufio.NewReader(in), out: out, notifier: notifier}
}

func (c *terminalConfirmer) Confirm(prompt string) (bool, bool, error) {
	if c.notifier != nil {
		c.notifier.Notify(context.Background(), "Confirmation required", prompt)
	}

	color.New(color.FgYellow).Fprintf(c.out, "\n%s\n", prompt)
	fmt.Fprint(c.out, "Allow? [y]es / [n]o / [a]lways: ")

	line, err := c.in.ReadString('\n')
	if err != nil {
		return false, false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, false, nil
	case "a", "always":
		return true, true, nil
	default:
		return false, false, nil
	}
}
