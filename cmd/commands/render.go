package commands

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const defaultWidth = 100

// printer writes assistant replies, rendering markdown on terminals.
type printer struct {
	out      io.Writer
	renderer *glamour.TermRenderer
}

func newPrinter(out *os.File, plain bool) *printer {
	p := &printer{out: out}
	fd := int(out.Fd())
	if plain || !term.IsTerminal(fd) {
		return p
	}

	width := defaultWidth
	if w, _, err := term.GetSize(fd); err == nil && w > 20 {
		width = w - 4
	}
	p.renderer = markdownRenderer(width)
	return p
}

// markdownRenderer returns a glamour renderer wrapping at width, or nil
// when the terminal style cannot be resolved.
func markdownRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithEmoji(),
	)
	if err != nil {
		return nil
	}
	return r
}

// Reply prints one assistant answer.
func (p *printer) Reply(content string) {
	if p.renderer != nil {
		if rendered, err := p.renderer.Render(content); err == nil {
			io.WriteString(p.out, strings.TrimRight(rendered, "\n")+"\n")
			return
		}
	}
	io.WriteString(p.out, content+"\n")
}
