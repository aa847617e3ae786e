//go:build windows

package counters

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"
)

const (
	pdhCategory      = "Network Interface"
	pdhBytesReceived = "Bytes Received/sec"
	pdhBytesSent     = "Bytes Sent/sec"

	pdhFmtDouble        = 0x00000200
	pdhPerfDetailWizard = 400
	pdhMoreData         = 0x800007D2
	pdhNoData           = 0x800007D5
)

var (
	modPdh                          = windows.NewLazySystemDLL("pdh.dll")
	procPdhOpenQueryW               = modPdh.NewProc("PdhOpenQueryW")
	procPdhAddEnglishCounterW       = modPdh.NewProc("PdhAddEnglishCounterW")
	procPdhCollectQueryData         = modPdh.NewProc("PdhCollectQueryData")
	procPdhGetFormattedCounterValue = modPdh.NewProc("PdhGetFormattedCounterValue")
	procPdhEnumObjectItemsW         = modPdh.NewProc("PdhEnumObjectItemsW")
	procPdhCloseQuery               = modPdh.NewProc("PdhCloseQuery")
)

// pdhFmtCounterValue mirrors PDH_FMT_COUNTERVALUE with the double member of
// the union selected.
type pdhFmtCounterValue struct {
	CStatus     uint32
	_           uint32
	DoubleValue float64
}

type pdhInstance struct {
	name string
	rx   windows.Handle
	tx   windows.Handle
}

// PDH polls the Windows performance counters for the Network Interface
// category. The counters are per-second rates already, so it is a
// RateSource.
type PDH struct {
	mu        sync.Mutex
	query     windows.Handle
	instances []pdhInstance
}

func NewPDH(filter Filter) (*PDH, error) {
	if err := modPdh.Load(); err != nil {
		return nil, unavailable(string(KindPDH), err)
	}

	names := filter.Names()
	if filter.Empty() {
		var err error
		names, err = pdhInstances(pdhCategory)
		if err != nil {
			return nil, unavailable(string(KindPDH), err)
		}
	}

	p := &PDH{}
	if status, _, _ := procPdhOpenQueryW.Call(0, 0, uintptr(unsafe.Pointer(&p.query))); status != 0 {
		return nil, unavailable(string(KindPDH), pdhError("PdhOpenQueryW", status))
	}

	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		inst := pdhInstance{name: name}
		var err error
		if inst.rx, err = p.addCounter(name, pdhBytesReceived); err == nil {
			inst.tx, err = p.addCounter(name, pdhBytesSent)
		}
		if err != nil {
			log.WithField("interface", name).WithError(err).Debug("Skipping performance counter instance")
			continue
		}
		p.instances = append(p.instances, inst)
	}

	if len(p.instances) == 0 && filter.Empty() {
		p.Close()
		return nil, unavailable(string(KindPDH), fmt.Errorf("no %q instances", pdhCategory))
	}

	// Rate counters need a previous collection to produce a value.
	if status, _, _ := procPdhCollectQueryData.Call(uintptr(p.query)); status != 0 && status != pdhNoData {
		p.Close()
		return nil, unavailable(string(KindPDH), pdhError("PdhCollectQueryData", status))
	}

	return p, nil
}

func (p *PDH) Name() string { return string(KindPDH) }

func (p *PDH) ReadRates(ctx context.Context) (map[string]Rate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.query == 0 {
		return nil, unavailable(p.Name(), fmt.Errorf("query closed"))
	}

	if status, _, _ := procPdhCollectQueryData.Call(uintptr(p.query)); status != 0 {
		return nil, unavailable(p.Name(), pdhError("PdhCollectQueryData", status))
	}

	rates := make(map[string]Rate, len(p.instances))
	for _, inst := range p.instances {
		rx, err := pdhValue(inst.rx)
		if err != nil {
			log.WithField("interface", inst.name).WithError(err).Trace("No received rate")
			continue
		}
		tx, err := pdhValue(inst.tx)
		if err != nil {
			log.WithField("interface", inst.name).WithError(err).Trace("No sent rate")
			continue
		}
		rates[inst.name] = Rate{RxBytesPerSec: rx, TxBytesPerSec: tx}
	}
	return rates, nil
}

func (p *PDH) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.query == 0 {
		return nil
	}
	procPdhCloseQuery.Call(uintptr(p.query))
	p.query = 0
	return nil
}

func (p *PDH) addCounter(instance, counter string) (windows.Handle, error) {
	path, err := windows.UTF16PtrFromString(fmt.Sprintf(`\%s(%s)\%s`, pdhCategory, instance, counter))
	if err != nil {
		return 0, err
	}
	var h windows.Handle
	status, _, _ := procPdhAddEnglishCounterW.Call(uintptr(p.query), uintptr(unsafe.Pointer(path)), 0, uintptr(unsafe.Pointer(&h)))
	if status != 0 {
		return 0, pdhError("PdhAddEnglishCounterW", status)
	}
	return h, nil
}

func pdhValue(counter windows.Handle) (float64, error) {
	var value pdhFmtCounterValue
	status, _, _ := procPdhGetFormattedCounterValue.Call(uintptr(counter), pdhFmtDouble, 0, uintptr(unsafe.Pointer(&value)))
	if status != 0 {
		return 0, pdhError("PdhGetFormattedCounterValue", status)
	}
	if value.CStatus != 0 {
		return 0, pdhError("counter status", uintptr(value.CStatus))
	}
	return value.DoubleValue, nil
}

// pdhInstances lists the instance names of a performance object.
func pdhInstances(object string) ([]string, error) {
	obj, err := windows.UTF16PtrFromString(object)
	if err != nil {
		return nil, err
	}

	var counterLen, instanceLen uint32
	status, _, _ := procPdhEnumObjectItemsW.Call(0, 0, uintptr(unsafe.Pointer(obj)),
		0, uintptr(unsafe.Pointer(&counterLen)),
		0, uintptr(unsafe.Pointer(&instanceLen)),
		pdhPerfDetailWizard, 0)
	if status != pdhMoreData {
		return nil, pdhError("PdhEnumObjectItemsW", status)
	}
	if instanceLen == 0 {
		return nil, nil
	}

	counterBuf := make([]uint16, counterLen)
	instanceBuf := make([]uint16, instanceLen)
	var counterPtr uintptr
	if counterLen > 0 {
		counterPtr = uintptr(unsafe.Pointer(&counterBuf[0]))
	}
	status, _, _ = procPdhEnumObjectItemsW.Call(0, 0, uintptr(unsafe.Pointer(obj)),
		counterPtr, uintptr(unsafe.Pointer(&counterLen)),
		uintptr(unsafe.Pointer(&instanceBuf[0])), uintptr(unsafe.Pointer(&instanceLen)),
		pdhPerfDetailWizard, 0)
	if status != 0 {
		return nil, pdhError("PdhEnumObjectItemsW", status)
	}

	return splitMultiSZ(instanceBuf), nil
}

func splitMultiSZ(buf []uint16) []string {
	var out []string
	start := 0
	for i, c := range buf {
		if c != 0 {
			continue
		}
		if i == start {
			break
		}
		out = append(out, windows.UTF16ToString(buf[start:i]))
		start = i + 1
	}
	return out
}

func pdhError(call string, status uintptr) error {
	return fmt.Errorf("%s failed with status 0x%08X", call, uint32(status))
}
