// Package netinfo lists network interfaces and finds the machine's primary
// IP, feeding the control server's /api/network/interfaces endpoint and the
// 30 s IP-change tick that re-pushes moonraker provisioning (§4.J).
package netinfo

import "net"

// Interface is one reported network interface.
type Interface struct {
	Name       string   `json:"name"`
	IPs        []string `json:"ips"`
	IsUp       bool     `json:"is_up"`
	IsLoopback bool     `json:"is_loopback"`
}

// List returns every interface that is up or has at least one IPv4 address.
func List() []Interface {
	var out []Interface

	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}

	for _, iface := range ifaces {
		ni := Interface{
			Name:       iface.Name,
			IsUp:       iface.Flags&net.FlagUp != 0,
			IsLoopback: iface.Flags&net.FlagLoopback != 0,
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ip := ipOf(addr); ip != nil {
				if ip4 := ip.To4(); ip4 != nil {
					ni.IPs = append(ni.IPs, ip4.String())
				}
			}
		}

		if len(ni.IPs) > 0 || ni.IsUp {
			out = append(out, ni)
		}
	}
	return out
}

// PrimaryIP returns the first non-loopback IPv4 address, preferring a
// non-private address but falling back to a private one.
func PrimaryIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	var privateIP string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip := ipOf(addr)
			if ip == nil {
				continue
			}
			ip4 := ip.To4()
			if ip4 == nil {
				continue
			}
			if isPrivate(ip4) {
				if privateIP == "" {
					privateIP = ip4.String()
				}
				continue
			}
			return ip4.String()
		}
	}
	return privateIP
}

func ipOf(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	default:
		return nil
	}
}

func isPrivate(ip4 net.IP) bool {
	return ip4[0] == 10 ||
		(ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31) ||
		(ip4[0] == 192 && ip4[1] == 168)
}
