package camera

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/inkworks/pentrack/internal/monitoring"
)

const (
	probeTimeout    = 200 * time.Millisecond
	streamProbeTime = 2 * time.Second
	scanWorkers     = 64
)

// LocalIPv4s returns the host's routable IPv4 addresses, preferred address
// first. Loopback, link-local and unspecified addresses are excluded.
func LocalIPv4s() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				continue
			}
			s := ip.String()
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func scanCandidates() []string {
	var candidates []string
	seen := make(map[string]bool)
	for _, localIP := range LocalIPv4s() {
		parts := strings.Split(localIP, ".")
		if len(parts) != 4 {
			continue
		}
		prefix := strings.Join(parts[:3], ".")
		for host := 1; host < 255; host++ {
			candidate := fmt.Sprintf("%s.%d", prefix, host)
			if candidate == localIP || seen[candidate] {
				continue
			}
			seen[candidate] = true
			candidates = append(candidates, candidate)
		}
	}
	return candidates
}

func isTCPPortOpen(ip string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, fmt.Sprint(port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Discover scans the local /24 networks for hosts serving an MJPEG stream
// at http://<ip>:<port><path> and returns the first URL that yields a
// decodable frame, or "" when none is found. The port scan runs on a
// bounded worker pool; stream probing is sequential since open ports are
// rare.
func Discover(port int, path string) string {
	candidates := scanCandidates()
	if len(candidates) == 0 {
		return ""
	}

	monitoring.Logf("camera auto-discovery: scanning %d hosts for tcp/%d", len(candidates), port)

	jobs := make(chan string)
	results := make(chan string, len(candidates))

	workers := scanWorkers
	if workers > len(candidates) {
		workers = len(candidates)
	}
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for ip := range jobs {
				if isTCPPortOpen(ip, port, probeTimeout) {
					results <- ip
				}
			}
			done <- struct{}{}
		}()
	}
	for _, ip := range candidates {
		jobs <- ip
	}
	close(jobs)
	for i := 0; i < workers; i++ {
		<-done
	}
	close(results)

	var open []string
	for ip := range results {
		open = append(open, ip)
	}
	sort.Strings(open)

	for _, ip := range open {
		url := fmt.Sprintf("http://%s:%d%s", ip, port, path)
		if Probe(url, streamProbeTime) {
			return url
		}
	}
	return ""
}
