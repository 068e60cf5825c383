// Package idconv implements the bit-exact id and address mapping
// conventions shared with the compute and SDN collaborators: hostname
// to IP, switch IP to datapath id, data-source to port, and the
// structural classification of a node id into its topology tier.
package idconv

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a topology node id.
type Kind int

const (
	KindUnknown Kind = iota
	KindCore
	KindAggregation
	KindEdge
	KindHostMac
	KindHostIp
)

func (k Kind) String() string {
	switch k {
	case KindCore:
		return "Core"
	case KindAggregation:
		return "Aggregation"
	case KindEdge:
		return "Edge"
	case KindHostMac:
		return "HostMac"
	case KindHostIp:
		return "HostIp"
	default:
		return "Unknown"
	}
}

// IsSwitch reports whether k is one of the three switch tiers.
func (k Kind) IsSwitch() bool {
	return k == KindCore || k == KindAggregation || k == KindEdge
}

// IsHost reports whether k is one of the two host id shapes.
func (k Kind) IsHost() bool {
	return k == KindHostMac || k == KindHostIp
}

// ClassifyID derives a node's Kind from the structural shape of its id:
// six colon-separated octets is a MAC-shaped host id, four dot-separated
// octets is an IPv4-shaped host id, anything else is a switch id whose
// second-to-last character ('0'/'1'/'2') encodes its tier.
func ClassifyID(id string) Kind {
	if strings.Count(id, ":") == 5 {
		return KindHostMac
	}
	if strings.Count(id, ".") == 3 {
		return KindHostIp
	}
	if len(id) < 2 {
		return KindUnknown
	}
	switch id[len(id)-2] {
	case '0':
		return KindCore
	case '1':
		return KindAggregation
	case '2':
		return KindEdge
	default:
		return KindUnknown
	}
}

// HostnameToIP converts a compute hostname ("computeN") to its
// management IP, "192.168.0.N".
func HostnameToIP(hostname string) (string, error) {
	n, ok := strings.CutPrefix(hostname, "compute")
	if !ok {
		return "", fmt.Errorf("idconv: hostname %q does not match computeN", hostname)
	}
	if _, err := strconv.Atoi(n); err != nil {
		return "", fmt.Errorf("idconv: hostname %q does not match computeN: %w", hostname, err)
	}
	return "192.168.0." + n, nil
}

// IPToHostname is the inverse of HostnameToIP.
func IPToHostname(ip string) (string, error) {
	const prefix = "192.168.0."
	n, ok := strings.CutPrefix(ip, prefix)
	if !ok {
		return "", fmt.Errorf("idconv: ip %q is not a compute management address", ip)
	}
	if _, err := strconv.Atoi(n); err != nil {
		return "", fmt.Errorf("idconv: ip %q is not a compute management address: %w", ip, err)
	}
	return "compute" + n, nil
}

// IsSwitchManagementIP reports whether ip is a switch management address
// (192.168.99.1XX with a last octet from 100 to 130, i.e. XX from 00 to 30).
func IsSwitchManagementIP(ip string) bool {
	const prefix = "192.168.99.1"
	suffix, ok := strings.CutPrefix(ip, prefix)
	if !ok || len(suffix) != 2 {
		return false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return false
	}
	last := 100 + n
	return last >= 100 && last <= 130
}

// SwitchIPToDPID converts a switch management IP ("192.168.99.1XX") to its
// datapath id ("409600XX").
func SwitchIPToDPID(ip string) (string, error) {
	const prefix = "192.168.99.1"
	suffix, ok := strings.CutPrefix(ip, prefix)
	if !ok || len(suffix) != 2 {
		return "", fmt.Errorf("idconv: ip %q is not a switch management address", ip)
	}
	return "409600" + suffix, nil
}

// SwitchDPIDToIP is the inverse of SwitchIPToDPID.
func SwitchDPIDToIP(dpid string) (string, error) {
	const prefix = "409600"
	suffix, ok := strings.CutPrefix(dpid, prefix)
	if !ok || len(suffix) != 2 {
		return "", fmt.Errorf("idconv: dpid %q is not a switch datapath id", dpid)
	}
	return "192.168.99.1" + suffix, nil
}

// DataSourceToPort converts a switch's numeric data-source id to its port
// number: port = data_source - 2. Host data sources map to ports by identity.
func DataSourceToPort(isSwitch bool, dataSource int) int {
	if isSwitch {
		return dataSource - 2
	}
	return dataSource
}

// PortToDataSource is the inverse of DataSourceToPort.
func PortToDataSource(isSwitch bool, port int) int {
	if isSwitch {
		return port + 2
	}
	return port
}
