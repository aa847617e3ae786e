package counters

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
)

const (
	defaultProcNetDev = "/proc/net/dev"

	procfsHeaderLines = 2
	procfsRxField     = 1
	procfsTxField     = 9
	procfsMinFields   = 10
)

// Procfs reads counters from the kernel's /proc/net/dev table.
type Procfs struct {
	path   string
	filter Filter
}

func NewProcfs(path string, filter Filter) (*Procfs, error) {
	if runtime.GOOS != "linux" {
		return nil, fmt.Errorf("procfs on %s: %w", runtime.GOOS, ErrUnsupportedPlatform)
	}
	if path == "" {
		path = defaultProcNetDev
	}
	return &Procfs{path: path, filter: filter}, nil
}

func (p *Procfs) Name() string { return string(KindProcfs) }

func (p *Procfs) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, unavailable(p.Name(), err)
	}

	return parseProcNetDev(data, p.filter)
}

// parseProcNetDev parses the /proc/net/dev layout:
//
//	Inter-|   Receive                            |  Transmit
//	 face |bytes    packets errs drop fifo frame compressed multicast|bytes ...
//	  eth0: 1234 ...
func parseProcNetDev(data []byte, filter Filter) (Reading, error) {
	reading := make(Reading)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo <= procfsHeaderLines {
			continue
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Large counters can run into the name ("eth0:123"), so split the
		// name off at the separator before splitting on whitespace.
		if i := strings.IndexByte(line, ':'); i > 0 {
			line = line[:i] + ": " + line[i+1:]
		}

		fields := strings.Fields(line)
		name := strings.TrimSuffix(fields[0], ":")
		if !filter.Allows(name) {
			continue
		}
		if _, seen := reading[name]; seen {
			continue
		}

		if len(fields) < procfsMinFields {
			return nil, &MalformedReadingError{
				Source: string(KindProcfs),
				Line:   lineNo,
				Text:   line,
				Reason: fmt.Sprintf("expected at least %d fields, got %d", procfsMinFields, len(fields)),
			}
		}

		rx, err := parseCounter(fields[procfsRxField])
		if err != nil {
			return nil, malformedCounter(KindProcfs, lineNo, line, "rx bytes", err)
		}
		tx, err := parseCounter(fields[procfsTxField])
		if err != nil {
			return nil, malformedCounter(KindProcfs, lineNo, line, "tx bytes", err)
		}

		reading.add(Sample{Name: name, RxBytes: rx, TxBytes: tx})
	}

	if err := scanner.Err(); err != nil {
		return nil, unavailable(string(KindProcfs), err)
	}

	return reading, nil
}
