/*
 * Copyright 2025 the IPCow Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sockparse expands address and port specifications into the flat,
// ordered list of listen targets. Supported address forms: single IPv4
// ("127.0.0.1"), dash range ("10.0.0.1-10.0.0.20"), wildcard octet
// ("192.168.1.X"), CIDR ("192.168.1.0/24") and comma lists of any of these.
// Ports: single ("80"), dash range ("8000-8100"), comma lists.
package sockparse

import (
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"github.com/Bit-Loop/IPcow/pkg/models"
)

// Enumerate expands the cross product of address specs and port specs into
// a deduplicated target list, sorted ascending by address then port so
// partitioning is reproducible for a given input.
func Enumerate(addrSpecs, portSpecs []string) ([]models.Target, error) {
	addrs, err := ExpandAddrs(addrSpecs)
	if err != nil {
		return nil, err
	}

	ports, err := ExpandPorts(portSpecs)
	if err != nil {
		return nil, err
	}

	targets := make([]models.Target, 0, len(addrs)*len(ports))

	for _, a := range addrs {
		for _, p := range ports {
			targets = append(targets, models.Target{Host: a.String(), Port: p})
		}
	}

	return targets, nil
}

// ExpandAddrs expands every address spec, deduplicates and sorts ascending.
func ExpandAddrs(specs []string) ([]netip.Addr, error) {
	seen := make(map[netip.Addr]struct{})

	for _, spec := range specs {
		for _, part := range splitList(spec) {
			addrs, err := expandAddrSpec(part)
			if err != nil {
				return nil, err
			}

			for _, a := range addrs {
				seen[a] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("addresses: %w", ErrEmptySpec)
	}

	out := make([]netip.Addr, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })

	return out, nil
}

// ExpandPorts expands every port spec, deduplicates and sorts ascending.
func ExpandPorts(specs []string) ([]uint16, error) {
	seen := make(map[uint16]struct{})

	for _, spec := range specs {
		for _, part := range splitList(spec) {
			ports, err := expandPortSpec(part)
			if err != nil {
				return nil, err
			}

			for _, p := range ports {
				seen[p] = struct{}{}
			}
		}
	}

	if len(seen) == 0 {
		return nil, fmt.Errorf("ports: %w", ErrEmptySpec)
	}

	out := make([]uint16, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out, nil
}

func splitList(spec string) []string {
	parts := strings.Split(spec, ",")
	out := parts[:0]

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

func expandAddrSpec(spec string) ([]netip.Addr, error) {
	switch {
	case strings.Contains(spec, "/"):
		return expandCIDR(spec)
	case strings.Contains(spec, "-"):
		return expandAddrRange(spec)
	case strings.ContainsAny(spec, "Xx"):
		return expandWildcard(spec)
	default:
		a, err := parseIPv4(spec)
		if err != nil {
			return nil, err
		}

		return []netip.Addr{a}, nil
	}
}

func expandCIDR(spec string) ([]netip.Addr, error) {
	prefix, err := netip.ParsePrefix(spec)
	if err != nil || !prefix.Addr().Is4() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, spec)
	}

	var addrs []netip.Addr

	prefix = prefix.Masked()
	for a := prefix.Addr(); prefix.Contains(a); a = a.Next() {
		addrs = append(addrs, a)
	}

	return addrs, nil
}

func expandAddrRange(spec string) ([]netip.Addr, error) {
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, spec)
	}

	start, err := parseIPv4(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, err
	}

	end, err := parseIPv4(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, err
	}

	if start.Compare(end) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
	}

	var addrs []netip.Addr
	for a := start; a.Compare(end) <= 0; a = a.Next() {
		addrs = append(addrs, a)
	}

	return addrs, nil
}

// expandWildcard expands each X octet independently, e.g. "10.0.X.1" yields
// 256 addresses.
func expandWildcard(spec string) ([]netip.Addr, error) {
	octets := strings.Split(spec, ".")
	if len(octets) != 4 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, spec)
	}

	// Per-octet candidate values.
	values := make([][]uint8, 4)

	for i, o := range octets {
		if o == "X" || o == "x" {
			all := make([]uint8, 256)
			for v := 0; v <= 255; v++ {
				all[v] = uint8(v)
			}

			values[i] = all

			continue
		}

		b, err := parseOctet(o, spec)
		if err != nil {
			return nil, err
		}

		values[i] = []uint8{b}
	}

	var addrs []netip.Addr

	for _, a := range values[0] {
		for _, b := range values[1] {
			for _, c := range values[2] {
				for _, d := range values[3] {
					addrs = append(addrs, netip.AddrFrom4([4]byte{a, b, c, d}))
				}
			}
		}
	}

	return addrs, nil
}

// parseIPv4 parses a dotted quad, distinguishing out-of-bounds octets
// (ErrInvalidRange) from malformed input (ErrInvalidAddress).
func parseIPv4(s string) (netip.Addr, error) {
	octets := strings.Split(s, ".")
	if len(octets) != 4 {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	var quad [4]byte

	for i, o := range octets {
		b, err := parseOctet(o, s)
		if err != nil {
			return netip.Addr{}, err
		}

		quad[i] = b
	}

	return netip.AddrFrom4(quad), nil
}

func parseOctet(o, spec string) (uint8, error) {
	n, err := strconv.Atoi(o)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, spec)
	}

	if n < 0 || n > 255 {
		return 0, fmt.Errorf("%w: octet %d in %q", ErrInvalidRange, n, spec)
	}

	return uint8(n), nil
}

func expandPortSpec(spec string) ([]uint16, error) {
	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)

		start, err := parsePort(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, err
		}

		end, err := parsePort(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}

		if start > end {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRange, spec)
		}

		ports := make([]uint16, 0, int(end)-int(start)+1)
		for p := int(start); p <= int(end); p++ {
			ports = append(ports, uint16(p))
		}

		return ports, nil
	}

	p, err := parsePort(spec)
	if err != nil {
		return nil, err
	}

	return []uint16{p}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}

	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("%w: port %d", ErrInvalidRange, n)
	}

	return uint16(n), nil
}
