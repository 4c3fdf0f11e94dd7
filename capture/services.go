package capture

import (
	"sort"
	"strconv"
)

// Well-known services shown next to port numbers in text reports.
var serviceNames = map[uint16]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "domain",
	67:    "bootps",
	68:    "bootpc",
	80:    "http",
	110:   "pop3",
	123:   "ntp",
	137:   "netbios-ns",
	143:   "imap",
	161:   "snmp",
	389:   "ldap",
	443:   "https",
	445:   "microsoft-ds",
	465:   "smtps",
	514:   "syslog",
	546:   "dhcpv6-client",
	547:   "dhcpv6-server",
	587:   "submission",
	636:   "ldaps",
	993:   "imaps",
	995:   "pop3s",
	1194:  "openvpn",
	1900:  "ssdp",
	3306:  "mysql",
	3389:  "ms-wbt-server",
	4500:  "ipsec-nat-t",
	5353:  "mdns",
	5355:  "llmnr",
	5432:  "postgresql",
	6379:  "redis",
	8080:  "http-proxy",
	8443:  "https-alt",
	27017: "mongodb",
}

// ServiceName returns the well-known service for a textual port, or "".
func ServiceName(port string) string {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return ""
	}
	return serviceNames[uint16(p)]
}

// FormatPort returns the port followed by its service name when one is known,
// e.g. "443(https)".
func FormatPort(port string) string {
	if name := ServiceName(port); name != "" {
		return port + "(" + name + ")"
	}
	return port
}

// ServicePorts returns the ports with a known service, in ascending order.
func ServicePorts() []uint16 {
	ports := make([]uint16, 0, len(serviceNames))
	for p := range serviceNames {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}
