package signaling

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pterm/pterm"
)

// Console exchanges descriptions by copy and paste. The operator relays the
// printed text to the other peer and pastes the reply back.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

// NewConsole returns a Console reading pasted text from in and printing to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Send prints text on a line of its own below a short instruction box.
func (c *Console) Send(_ context.Context, text string) error {
	box := pterm.DefaultBox.
		WithTitle("Local description").
		Sprint("Copy the line below and send it to the other peer")
	_, err := fmt.Fprintf(c.out, "\n%s\n\n%s\n\n", box, text)
	return err
}

type readResult struct {
	text string
	err  error
}

// Receive reads pasted lines until an empty line follows some text, or until
// EOF. A cancelled ctx returns immediately; the pending read is abandoned.
func (c *Console) Receive(ctx context.Context) (string, error) {
	fmt.Fprintln(c.out, "Paste the remote description, then press Enter on an empty line:")

	ch := make(chan readResult, 1)
	go func() {
		text, err := c.readBlock()
		ch <- readResult{text, err}
	}()

	select {
	case r := <-ch:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) readBlock() (string, error) {
	var b strings.Builder
	for {
		line, err := c.in.ReadString('\n')
		trimmed := strings.TrimSpace(line)

		if trimmed != "" {
			b.WriteString(trimmed)
		} else if b.Len() > 0 && err == nil {
			return b.String(), nil
		}

		if err != nil {
			if err == io.EOF && b.Len() > 0 {
				return b.String(), nil
			}
			return "", err
		}
	}
}

// Close is a no-op; the console streams belong to the caller.
func (c *Console) Close() error { return nil }
