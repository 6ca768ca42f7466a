package probes

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// NetworkCollector snapshots established TCP connections and listening ports
// from /proc/net, avoiding a shell-out on the hot 3-second cadence.
type NetworkCollector struct {
	procPaths []string
}

func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{procPaths: []string{"/proc/net/tcp", "/proc/net/tcp6"}}
}

func (c *NetworkCollector) Name() string { return "network" }

type connectionInfo struct {
	LocalAddr  string `json:"local_addr"`
	LocalPort  int    `json:"local_port"`
	RemoteAddr string `json:"remote_addr"`
	RemotePort int    `json:"remote_port"`
	State      string `json:"state"`
}

type networkSnapshot struct {
	Timestamp   time.Time        `json:"timestamp"`
	Established []connectionInfo `json:"established"`
	Listening   []connectionInfo `json:"listening"`
}

// TCP state codes from the kernel's /proc/net/tcp format.
const (
	tcpEstablished = "01"
	tcpListen      = "0A"
)

func (c *NetworkCollector) Collect(ctx context.Context) (json.RawMessage, error) {
	snap := networkSnapshot{
		Timestamp:   time.Now().UTC(),
		Established: []connectionInfo{},
		Listening:   []connectionInfo{},
	}
	for _, path := range c.procPaths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conns, err := parseProcNet(path)
		if err != nil {
			continue
		}
		for _, conn := range conns {
			switch conn.State {
			case "established":
				snap.Established = append(snap.Established, conn)
			case "listen":
				snap.Listening = append(snap.Listening, conn)
			}
		}
	}
	return json.Marshal(snap)
}

func parseProcNet(path string) ([]connectionInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var conns []connectionInfo
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		var state string
		switch fields[3] {
		case tcpEstablished:
			state = "established"
		case tcpListen:
			state = "listen"
		default:
			continue
		}
		localAddr, localPort := parseHexAddr(fields[1])
		remoteAddr, remotePort := parseHexAddr(fields[2])
		conns = append(conns, connectionInfo{
			LocalAddr:  localAddr,
			LocalPort:  localPort,
			RemoteAddr: remoteAddr,
			RemotePort: remotePort,
			State:      state,
		})
	}
	return conns, scanner.Err()
}

// parseHexAddr decodes the kernel's ADDR:PORT hex notation. IPv4 addresses
// are little-endian per octet group.
func parseHexAddr(s string) (string, int) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return "", 0
	}
	port64, err := strconv.ParseInt(parts[1], 16, 32)
	if err != nil {
		return "", 0
	}
	hexIP := parts[0]
	if len(hexIP) == 8 {
		var octets [4]int64
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseInt(hexIP[i*2:i*2+2], 16, 16)
			if err != nil {
				return "", int(port64)
			}
			octets[3-i] = v
		}
		ip := strconv.FormatInt(octets[0], 10) + "." +
			strconv.FormatInt(octets[1], 10) + "." +
			strconv.FormatInt(octets[2], 10) + "." +
			strconv.FormatInt(octets[3], 10)
		return ip, int(port64)
	}
	return hexIP, int(port64)
}
