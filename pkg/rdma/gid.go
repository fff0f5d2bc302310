package rdma

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// GID is a 128-bit RDMA global identifier in network byte order: bytes
// 0-7 hold the subnet prefix, bytes 8-15 the interface id.
type GID [16]byte

const ipv4MappedPrefix = uint64(0x0000ffff00000000)

// IPv4ToGID builds the IPv4-mapped GID of ip, where ip holds the address in
// its numeric form (192.168.1.1 is 0xc0a80101). The subnet prefix is zero.
func IPv4ToGID(ip uint32) GID {
	var g GID
	binary.BigEndian.PutUint64(g[8:], ipv4MappedPrefix|uint64(ip))
	return g
}

// GIDToIPv4 returns the low 32 bits of the interface id. The prefix is not
// checked; use IPv4 to reject GIDs that do not carry an IPv4 address.
func GIDToIPv4(g GID) uint32 {
	return uint32(binary.BigEndian.Uint64(g[8:]))
}

// IsIPv4Mapped reports whether g has the ::ffff:a.b.c.d layout produced by
// IPv4ToGID.
func (g GID) IsIPv4Mapped() bool {
	return binary.BigEndian.Uint64(g[:8]) == 0 &&
		binary.BigEndian.Uint64(g[8:])&^0xffffffff == ipv4MappedPrefix
}

// IPv4 returns the embedded address if g is IPv4-mapped.
func (g GID) IPv4() (netip.Addr, bool) {
	if !g.IsIPv4Mapped() {
		return netip.Addr{}, false
	}
	var a [4]byte
	copy(a[:], g[12:])
	return netip.AddrFrom4(a), true
}

// String renders g as eight colon-separated groups of four hex digits.
func (g GID) String() string {
	var b strings.Builder
	b.Grow(len(g)/2*5 - 1)
	for i := 0; i < len(g); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%04x", binary.BigEndian.Uint16(g[i:]))
	}
	return b.String()
}

// ParseGID parses the eight-group form produced by String.
func ParseGID(s string) (GID, error) {
	var g GID
	groups := strings.Split(s, ":")
	if len(groups) != 8 {
		return g, errors.Errorf("invalid GID %q: want 8 groups, got %d", s, len(groups))
	}
	for i, group := range groups {
		if len(group) == 0 || len(group) > 4 {
			return g, errors.Errorf("invalid GID %q: bad group %q", s, group)
		}
		v, err := strconv.ParseUint(group, 16, 16)
		if err != nil {
			return g, errors.Wrapf(err, "invalid GID %q", s)
		}
		binary.BigEndian.PutUint16(g[i*2:], uint16(v))
	}
	return g, nil
}

// IPv4FromString parses a dotted-decimal literal into its numeric form.
func IPv4FromString(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid IPv4 address %q", s)
	}
	if !addr.Is4() {
		return 0, errors.Errorf("%q is not an IPv4 address", s)
	}
	a := addr.As4()
	return binary.BigEndian.Uint32(a[:]), nil
}
