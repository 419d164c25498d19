package ssdp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lgulliver/autobackup/internal/metrics"
)

const testUUID = "4a682b0b-0361-dbae-6155-0123456789ab"

func search(st string) []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: " + st + "\r\n" +
		"\r\n")
}

func fixedResponder(cfg Config, local string) *Responder {
	r := NewResponder(cfg)
	r.resolveLocal = func(*net.UDPAddr) (net.IP, error) {
		return net.ParseIP(local), nil
	}
	return r
}

func TestBuildResponse(t *testing.T) {
	want := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age = 1800\r\n" +
		"EXT:\r\n" +
		"LOCATION: http://192.168.1.10:52235/DMS/SamsungDmsDesc.xml\r\n" +
		"SERVER: MS-Windows/XP UPnP/1.0 PROTOTYPE/1.0\r\n" +
		"ST: urn:schemas-upnp-org:device:MediaServer:1\r\n" +
		"USN: uuid:" + testUUID + "::urn:schemas-upnp-org:device:MediaServer:1\r\n" +
		"CONTENT-LENGTH: 0\r\n" +
		"\r\n"

	got := BuildResponse(net.ParseIP("192.168.1.10"), 52235, testUUID)
	assert.Equal(t, want, string(got))
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders([]byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"st:urn:schemas-upnp-org:device:MediaServer:1\r\n" +
		"ST: second\r\n" +
		"garbage line\r\n" +
		"MX: 1\n"))

	assert.Equal(t, "239.255.255.250:1900", headers["HOST"])
	assert.Equal(t, "urn:schemas-upnp-org:device:MediaServer:1", headers["ST"])
	assert.Equal(t, "1", headers["MX"])
	assert.Len(t, headers, 3)
}

func TestIsMediaServerTarget(t *testing.T) {
	tests := []struct {
		st   string
		want bool
	}{
		{"urn:schemas-upnp-org:device:MediaServer:1", true},
		{"urn:schemas-upnp-org:device:MediaServer:2", true},
		{"urn:schemas-upnp-org:device:MediaRenderer:1", false},
		{"urn:schemas-upnp-org:device:MediaServer", true},
		{"urn:schemas-upnp-org:device:MediaServer:", true},
		{"urn:schemas-upnp-org:device:MediaServer:0", false},
		{"urn:schemas-upnp-org:device:MediaServerX:1", false},
		{"urn:schemas-upnp-org:device:MediaServer:x", false},
		{"ssdp:all", false},
		{"upnp:rootdevice", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.st, func(t *testing.T) {
			assert.Equal(t, tt.want, IsMediaServerTarget(tt.st))
		})
	}
}

func TestRespond(t *testing.T) {
	src := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 40000}

	tests := []struct {
		name       string
		cfg        Config
		data       []byte
		wantReply  bool
		wantResult string
	}{
		{
			name:       "media server search",
			cfg:        Config{UUID: testUUID, Port: 52235},
			data:       search("urn:schemas-upnp-org:device:MediaServer:1"),
			wantReply:  true,
			wantResult: metrics.SSDPAnswered,
		},
		{
			name:       "other target",
			cfg:        Config{UUID: testUUID, Port: 52235},
			data:       search("urn:schemas-upnp-org:device:MediaRenderer:1"),
			wantResult: metrics.SSDPIgnored,
		},
		{
			name:       "notify",
			cfg:        Config{UUID: testUUID, Port: 52235},
			data:       []byte("NOTIFY * HTTP/1.1\r\nNT: upnp:rootdevice\r\n\r\n"),
			wantResult: metrics.SSDPIgnored,
		},
		{
			name:       "lower case request line",
			cfg:        Config{UUID: testUUID, Port: 52235},
			data:       []byte(strings.Replace(string(search("urn:schemas-upnp-org:device:MediaServer:1")), "M-SEARCH", "m-search", 1)),
			wantResult: metrics.SSDPIgnored,
		},
		{
			name:       "no target",
			cfg:        Config{UUID: testUUID, Port: 52235},
			data:       []byte("M-SEARCH * HTTP/1.1\r\nMX: 3\r\n\r\n"),
			wantResult: metrics.SSDPIgnored,
		},
		{
			name:       "garbage",
			cfg:        Config{UUID: testUUID, Port: 52235},
			data:       []byte{0x00, 0xff, 0x13},
			wantResult: metrics.SSDPIgnored,
		},
		{
			name:       "matching interface restriction",
			cfg:        Config{UUID: testUUID, Port: 52235, Interface: "192.168.1.10"},
			data:       search("urn:schemas-upnp-org:device:MediaServer:1"),
			wantReply:  true,
			wantResult: metrics.SSDPAnswered,
		},
		{
			name:       "other interface",
			cfg:        Config{UUID: testUUID, Port: 52235, Interface: "10.0.0.1"},
			data:       search("urn:schemas-upnp-org:device:MediaServer:1"),
			wantResult: metrics.SSDPFiltered,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := fixedResponder(tt.cfg, "192.168.1.10")

			reply, result := r.Respond(tt.data, src)
			assert.Equal(t, tt.wantResult, result)
			if !tt.wantReply {
				assert.Nil(t, reply)
				return
			}
			assert.Contains(t, string(reply), "LOCATION: http://192.168.1.10:52235/DMS/SamsungDmsDesc.xml\r\n")
			assert.Contains(t, string(reply), "USN: uuid:"+testUUID+"::")
		})
	}
}

func TestRespond_ResolveFailure(t *testing.T) {
	r := NewResponder(Config{UUID: testUUID, Port: 52235})
	r.resolveLocal = func(*net.UDPAddr) (net.IP, error) {
		return nil, errors.New("network unreachable")
	}

	reply, result := r.Respond(search("urn:schemas-upnp-org:device:MediaServer:1"), &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 1900})
	assert.Nil(t, reply)
	assert.Equal(t, metrics.SSDPError, result)
}

func TestLocalAddrFor(t *testing.T) {
	ip, err := localAddrFor(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1900})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ip.String())
}

func TestServe_Loopback(t *testing.T) {
	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)

	r := NewResponder(Config{UUID: testUUID, Port: 52235})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, server) }()

	client, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	buf := make([]byte, maxDatagram)

	// ignored datagram first: nothing comes back for it
	_, err = client.WriteTo(search("upnp:rootdevice"), server.LocalAddr())
	require.NoError(t, err)

	_, err = client.WriteTo(search("urn:schemas-upnp-org:device:MediaServer:1"), server.LocalAddr())
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := client.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, server.LocalAddr().String(), from.String())
	assert.Equal(t, string(BuildResponse(net.ParseIP("127.0.0.1"), 52235, testUUID)), string(buf[:n]))

	// exactly one reply
	require.NoError(t, client.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = client.ReadFrom(buf)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// failingConn is a PacketConn whose reads always fail
type failingConn struct {
	net.PacketConn
	reads atomic.Int64
}

func (f *failingConn) ReadFrom(p []byte) (int, net.Addr, error) {
	f.reads.Add(1)
	return 0, nil, errors.New("network is down")
}

func (f *failingConn) Close() error { return nil }

func TestServe_BacksOffOnReadErrors(t *testing.T) {
	conn := &failingConn{}
	r := NewResponder(Config{UUID: testUUID, Port: 52235})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, r.Serve(ctx, conn))

	// 10ms, 20ms, 40ms, 80ms, 160ms fit in the window
	assert.LessOrEqual(t, conn.reads.Load(), int64(8))
	assert.GreaterOrEqual(t, conn.reads.Load(), int64(2))
}
