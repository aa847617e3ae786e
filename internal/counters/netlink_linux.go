//go:build linux

package counters

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// Netlink reads link statistics over an rtnetlink socket instead of
// parsing /proc.
type Netlink struct {
	filter Filter
	list   func() ([]netlink.Link, error)
}

func NewNetlink(filter Filter) (*Netlink, error) {
	return &Netlink{filter: filter, list: netlink.LinkList}, nil
}

func (n *Netlink) Name() string { return string(KindNetlink) }

func (n *Netlink) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	links, err := n.list()
	if err != nil {
		return nil, unavailable(n.Name(), err)
	}

	reading := make(Reading, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		if attrs == nil || !n.filter.Allows(attrs.Name) {
			continue
		}
		if attrs.Statistics == nil {
			log.WithField("interface", attrs.Name).Trace("Link has no statistics")
			continue
		}
		reading.add(Sample{
			Name:    attrs.Name,
			RxBytes: attrs.Statistics.RxBytes,
			TxBytes: attrs.Statistics.TxBytes,
		})
	}

	return reading, nil
}
