package counters

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	defaultNetstatPath = "netstat"

	// Column offsets in `netstat -ib` rows when the header cannot be used.
	netstatRxColumn  = 6
	netstatTxColumn  = 9
	netstatMinFields = 10
)

// Netstat reads counters by running `netstat -ib` once per Read.
type Netstat struct {
	path   string
	filter Filter
	run    func(ctx context.Context) ([]byte, error)
}

// NewNetstat returns a command based source. Only BSD derived systems print
// byte columns for `netstat -ib`.
func NewNetstat(path string, filter Filter) (*Netstat, error) {
	switch runtime.GOOS {
	case "darwin", "freebsd", "netbsd", "openbsd", "dragonfly":
	default:
		return nil, fmt.Errorf("netstat on %s: %w", runtime.GOOS, ErrUnsupportedPlatform)
	}

	if path == "" {
		path = defaultNetstatPath
	}

	n := &Netstat{path: path, filter: filter}
	n.run = n.exec
	return n, nil
}

func (n *Netstat) Name() string { return string(KindNetstat) }

func (n *Netstat) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := n.run(ctx)
	if err != nil {
		return nil, unavailable(n.Name(), err)
	}

	return parseNetstat(out, n.filter)
}

// exec starts a fresh process for every sample. The process is not tied to
// ctx: a read that has started is allowed to finish.
func (n *Netstat) exec(_ context.Context) ([]byte, error) {
	cmd := exec.Command(n.path, "-ib")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("running %s -ib: %w", n.path, err)
	}

	log.WithField("bytes", len(out)).Trace("netstat output captured")
	return out, nil
}

// parseNetstat parses `netstat -ib` output. The byte columns are located
// from the header when it names them; rows that omit the optional Address
// column are aligned from the right so the counters stay in place.
func parseNetstat(out []byte, filter Filter) (Reading, error) {
	reading := make(Reading)
	rxCol, txCol, headerFields := netstatRxColumn, netstatTxColumn, 0

	scanner := bufio.NewScanner(bytes.NewReader(out))
	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lineNo++

		fields := strings.Fields(line)
		if lineNo == 1 {
			rxCol, txCol, headerFields = netstatHeader(fields)
			continue
		}

		name := fields[0]
		if !filter.Allows(name) {
			continue
		}
		if _, seen := reading[name]; seen {
			continue
		}

		if len(fields) < netstatMinFields {
			return nil, &MalformedReadingError{
				Source: string(KindNetstat),
				Line:   lineNo,
				Text:   line,
				Reason: fmt.Sprintf("expected at least %d fields, got %d", netstatMinFields, len(fields)),
			}
		}

		shift := 0
		if headerFields > 0 && len(fields) < headerFields {
			shift = headerFields - len(fields)
		}
		if rxCol-shift < 1 {
			return nil, &MalformedReadingError{
				Source: string(KindNetstat),
				Line:   lineNo,
				Text:   line,
				Reason: fmt.Sprintf("row has %d fields, header has %d", len(fields), headerFields),
			}
		}

		rx, err := parseCounter(fields[rxCol-shift])
		if err != nil {
			return nil, malformedCounter(KindNetstat, lineNo, line, "rx bytes", err)
		}
		tx, err := parseCounter(fields[txCol-shift])
		if err != nil {
			return nil, malformedCounter(KindNetstat, lineNo, line, "tx bytes", err)
		}

		reading.add(Sample{Name: name, RxBytes: rx, TxBytes: tx})
	}

	if err := scanner.Err(); err != nil {
		return nil, unavailable(string(KindNetstat), err)
	}

	return reading, nil
}

func netstatHeader(fields []string) (rxCol, txCol, count int) {
	rxCol, txCol = netstatRxColumn, netstatTxColumn
	rxFound, txFound := false, false
	for i, f := range fields {
		switch f {
		case "Ibytes":
			rxCol, rxFound = i, true
		case "Obytes":
			txCol, txFound = i, true
		}
	}
	if !rxFound || !txFound {
		return netstatRxColumn, netstatTxColumn, 0
	}
	return rxCol, txCol, len(fields)
}

func parseCounter(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func malformedCounter(kind Kind, lineNo int, line, what string, err error) error {
	return &MalformedReadingError{
		Source: string(kind),
		Line:   lineNo,
		Text:   line,
		Reason: fmt.Sprintf("%s: %v", what, err),
	}
}
