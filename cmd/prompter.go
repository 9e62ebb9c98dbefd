package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// terminalPrompter runs the save dialog on a terminal. Ctrl+D at the name
// prompt cancels.
type terminalPrompter struct {
	lines chan string
	out   io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	p := &terminalPrompter{lines: make(chan string), out: out}
	go p.scan(in)
	return p
}

// scan is the only reader of in, so a prompt abandoned on cancellation
// never swallows the next answer.
func (p *terminalPrompter) scan(in io.Reader) {
	defer close(p.lines)
	r := bufio.NewReader(in)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			p.lines <- strings.TrimRight(line, "\r\n")
		}
		if err != nil {
			return
		}
	}
}

// readLine returns the next line. ok is false at end of input.
func (p *terminalPrompter) readLine(ctx context.Context) (line string, ok bool, err error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case line, ok = <-p.lines:
		return line, ok, nil
	}
}

func (p *terminalPrompter) ConfirmSave(ctx context.Context) (bool, error) {
	for {
		fmt.Fprint(p.out, "Do you want to save this recording? [y/n]: ")
		line, ok, err := p.readLine(ctx)
		if err != nil || !ok {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// AskName offers defaultName; an empty line accepts it.
func (p *terminalPrompter) AskName(ctx context.Context, defaultName string) (string, bool, error) {
	fmt.Fprintf(p.out, "Recording name [%s]: ", defaultName)
	line, ok, err := p.readLine(ctx)
	if err != nil || !ok {
		fmt.Fprintln(p.out)
		return "", false, err
	}
	if line == "" {
		return defaultName, true, nil
	}
	return line, true, nil
}

func (p *terminalPrompter) Notify(_ context.Context, title, message string) {
	fmt.Fprintf(p.out, "%s: %s\n", title, message)
}
