// Package ssdp answers the M-SEARCH discovery requests a camera multicasts
// when it looks for its backup server.
package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"

	"github.com/lgulliver/autobackup/internal/metrics"
)

const (
	// MulticastAddr is the SSDP group and port
	MulticastAddr = "239.255.255.250:1900"

	// MulticastTTL matches the vendor server
	MulticastTTL = 5

	// DescriptionPath is where the device description is served
	DescriptionPath = "/DMS/SamsungDmsDesc.xml"

	searchLine        = "M-SEARCH * HTTP/1.1"
	mediaServerTarget = "urn:schemas-upnp-org:device:MediaServer"
	maxDatagram       = 4096

	// readBuffer holds a burst of repeated searches; the kernel clamps it to rmem_max
	readBuffer = 1 << 20

	minReadBackoff = 10 * time.Millisecond
	maxReadBackoff = time.Second
)

// Config is what the responder needs from the process configuration
type Config struct {
	// UUID is the device uuid advertised in USN
	UUID string
	// Interface, when set, suppresses replies whose route to the requester
	// leaves through a different local address
	Interface string
	// Port of the description server
	Port int
}

// Responder builds and sends replies to discovery datagrams
type Responder struct {
	cfg          Config
	resolveLocal func(remote *net.UDPAddr) (net.IP, error)
}

// NewResponder creates a responder for cfg
func NewResponder(cfg Config) *Responder {
	return &Responder{
		cfg:          cfg,
		resolveLocal: localAddrFor,
	}
}

// localAddrFor finds the local address the kernel would use to reach remote
// by connecting a throwaway UDP socket. No packet is sent.
func localAddrFor(remote *net.UDPAddr) (net.IP, error) {
	conn, err := net.DialUDP("udp4", nil, remote)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return local.IP, nil
}

// ParseHeaders returns the "key: value" lines of a datagram after its first
// line. Keys are upper-cased; the first occurrence of a key wins.
func ParseHeaders(data []byte) map[string]string {
	headers := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		if _, seen := headers[key]; !seen {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}

// IsSearch reports whether data starts with the exact M-SEARCH request line
func IsSearch(data []byte) bool {
	first, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimRight(first, "\r") == searchLine
}

// IsMediaServerTarget accepts urn:schemas-upnp-org:device:MediaServer with
// a positive version or none at all
func IsMediaServerTarget(st string) bool {
	rest, ok := strings.CutPrefix(st, mediaServerTarget)
	if !ok {
		return false
	}
	if rest == "" || rest == ":" {
		return true
	}
	version, ok := strings.CutPrefix(rest, ":")
	if !ok {
		return false
	}
	n, err := strconv.Atoi(version)
	return err == nil && n > 0
}

// BuildResponse renders the unicast search reply. Field order and spelling
// are fixed; the camera parses them positionally.
func BuildResponse(ip net.IP, port int, uuid string) []byte {
	lines := []string{
		"HTTP/1.1 200 OK",
		"CACHE-CONTROL: max-age = 1800",
		"EXT:",
		fmt.Sprintf("LOCATION: http://%s:%d%s", ip, port, DescriptionPath),
		"SERVER: MS-Windows/XP UPnP/1.0 PROTOTYPE/1.0",
		"ST: urn:schemas-upnp-org:device:MediaServer:1",
		fmt.Sprintf("USN: uuid:%s::urn:schemas-upnp-org:device:MediaServer:1", uuid),
		"CONTENT-LENGTH: 0",
		"",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// Respond decides how to answer one datagram from src. It returns the reply
// (nil when the datagram is dropped) and the outcome label.
func (r *Responder) Respond(data []byte, src *net.UDPAddr) ([]byte, string) {
	if !IsSearch(data) {
		return nil, metrics.SSDPIgnored
	}

	st := ParseHeaders(data)["ST"]
	if !IsMediaServerTarget(st) {
		log.Debug().Str("client", src.String()).Str("st", st).Msg("ignoring M-SEARCH for other target")
		return nil, metrics.SSDPIgnored
	}

	local, err := r.resolveLocal(src)
	if err != nil {
		log.Debug().Err(err).Str("client", src.String()).Msg("failed to resolve local interface")
		return nil, metrics.SSDPError
	}
	if r.cfg.Interface != "" && r.cfg.Interface != local.String() {
		log.Debug().
			Str("client", src.String()).
			Str("local", local.String()).
			Str("interface", r.cfg.Interface).
			Msg("M-SEARCH arrived on another interface")
		return nil, metrics.SSDPFiltered
	}

	return BuildResponse(local, r.cfg.Port, r.cfg.UUID), metrics.SSDPAnswered
}

// Listen joins the SSDP group. ifaceAddr, when set, selects the interface
// holding that address.
func Listen(ifaceAddr string) (*net.UDPConn, error) {
	group, err := net.ResolveUDPAddr("udp4", MulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve multicast address: %w", err)
	}

	var iface *net.Interface
	if ifaceAddr != "" {
		iface, err = interfaceByAddr(net.ParseIP(ifaceAddr))
		if err != nil {
			return nil, err
		}
	}

	conn, err := net.ListenMulticastUDP("udp4", iface, group)
	if err != nil {
		return nil, fmt.Errorf("failed to join %s: %w", MulticastAddr, err)
	}
	if err := ipv4.NewPacketConn(conn).SetMulticastTTL(MulticastTTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set multicast ttl: %w", err)
	}
	if err := conn.SetReadBuffer(readBuffer); err != nil {
		log.Warn().Err(err).Msg("failed to set SSDP read buffer")
	}

	log.Info().Str("group", MulticastAddr).Str("interface", ifaceAddr).Msg("SSDP responder listening")
	return conn, nil
}

func interfaceByAddr(ip net.IP) (*net.Interface, error) {
	if ip == nil {
		return nil, errors.New("invalid interface address")
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface has address %s", ip)
}

// Serve answers datagrams on conn until ctx is cancelled. conn is closed on
// return.
func (r *Responder) Serve(ctx context.Context, conn net.PacketConn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, maxDatagram)
	var backoff time.Duration
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("SSDP responder stopped")
				return nil
			}
			backoff = min(max(2*backoff, minReadBackoff), maxReadBackoff)
			log.Error().Err(err).Dur("retry_in", backoff).Msg("failed to read SSDP datagram")
			select {
			case <-ctx.Done():
				log.Info().Msg("SSDP responder stopped")
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		src, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		reply, result := r.Respond(buf[:n], src)
		if reply != nil {
			if _, err := conn.WriteTo(reply, src); err != nil {
				log.Error().Err(err).Str("client", src.String()).Msg("failed to send SSDP response")
				result = metrics.SSDPError
			} else {
				log.Info().Str("client", src.String()).Msg("sent SSDP response")
			}
		}
		metrics.RecordSSDP(result)
	}
}
