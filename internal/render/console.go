package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netusage/internal/ifnames"
	"github.com/dmdmdm-nz/netusage/internal/usage"
)

const (
	header = "Network Usage:"

	saveCursor    = "\x1b[s"
	restoreCursor = "\x1b[u"
	clearToEnd    = "\x1b[J"

	speedWidth = 12
)

// IsTTY reports whether f is an interactive terminal.
func IsTTY(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

type ConsoleOptions struct {
	Out    io.Writer
	Labels ifnames.Labels

	// Redraw rewrites the previous block in place using cursor save and
	// restore. Without it every snapshot is appended.
	Redraw bool
	Color  bool

	// Once stops Run after the first snapshot.
	Once bool
}

// Console prints snapshots as a table of interfaces.
type Console struct {
	out    io.Writer
	labels ifnames.Labels
	redraw bool
	once   bool

	rx, tx, reset *color.Color
	started       bool
}

func NewConsole(opts ConsoleOptions) *Console {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	c := &Console{
		out:    out,
		labels: opts.Labels,
		redraw: opts.Redraw,
		once:   opts.Once,
		rx:     color.New(color.FgGreen),
		tx:     color.New(color.FgCyan),
		reset:  color.New(color.FgYellow),
	}
	for _, col := range []*color.Color{c.rx, c.tx, c.reset} {
		if opts.Color {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// Run renders snapshots from ch until it is closed or ctx is cancelled.
func (c *Console) Run(ctx context.Context, ch <-chan usage.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := c.Render(snap); err != nil {
				return err
			}
			if c.once {
				log.Debug("Printed one snapshot, stopping console")
				return nil
			}
		}
	}
}

// Render writes one snapshot. The header is written before the first one.
func (c *Console) Render(snap usage.Snapshot) error {
	var buf bytes.Buffer

	if !c.started {
		buf.WriteString(header + "\n")
		if c.redraw {
			buf.WriteString(saveCursor)
		}
		c.started = true
	} else if c.redraw {
		buf.WriteString(restoreCursor + clearToEnd)
	} else {
		buf.WriteString("\n")
	}

	names := make([]string, 0, len(snap.Speeds)+len(snap.Reset))
	for name := range snap.Speeds {
		names = append(names, name)
	}
	sort.Strings(names)

	width := 0
	for _, name := range names {
		width = max(width, runewidth.StringWidth(c.labels.Display(name)+":"))
	}
	for _, name := range snap.Reset {
		width = max(width, runewidth.StringWidth(c.labels.Display(name)+":"))
	}

	for _, name := range names {
		sp := snap.Speeds[name]
		fmt.Fprintf(&buf, "%s  Rx: %s  Tx: %s\n",
			runewidth.FillRight(c.labels.Display(name)+":", width),
			c.rx.Sprint(runewidth.FillRight(FormatSpeed(sp.RxBytesPerSec), speedWidth)),
			c.tx.Sprint(FormatSpeed(sp.TxBytesPerSec)))
	}
	for _, name := range snap.Reset {
		fmt.Fprintf(&buf, "%s  %s\n",
			runewidth.FillRight(c.labels.Display(name)+":", width),
			c.reset.Sprint("counters reset"))
	}

	_, err := c.out.Write(buf.Bytes())
	return err
}
