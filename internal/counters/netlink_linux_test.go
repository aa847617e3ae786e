//go:build linux

package counters

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

func dummy(name string, stats *netlink.LinkStatistics) netlink.Link {
	return &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Name: name, Statistics: stats}}
}

func TestNetlink_Read(t *testing.T) {
	n := &Netlink{
		filter: NewFilter("eth0", "wg0"),
		list: func() ([]netlink.Link, error) {
			return []netlink.Link{
				dummy("lo", &netlink.LinkStatistics{RxBytes: 1, TxBytes: 1}),
				dummy("eth0", &netlink.LinkStatistics{RxBytes: 100, TxBytes: 200}),
				dummy("wg0", nil),
			}, nil
		},
	}

	r, err := n.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Reading{"eth0": {Name: "eth0", RxBytes: 100, TxBytes: 200}}, r)
}

func TestNetlink_ListFailure(t *testing.T) {
	n := &Netlink{list: func() ([]netlink.Link, error) {
		return nil, errors.New("operation not permitted")
	}}

	_, err := n.Read(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
