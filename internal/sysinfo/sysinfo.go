// Package sysinfo gathers host and network context for troubleshooting
// connection-capacity results.
package sysinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	gnet "github.com/shirou/gopsutil/v4/net"
)

type Interface struct {
	Name string `json:"interface"`
	Addr string `json:"addr"`
}

type Info struct {
	OS         string      `json:"os"`
	Hostname   string      `json:"hostname"`
	CPUPercent float64     `json:"cpu_usage"`
	MemPercent float64     `json:"memory_usage"`
	Interfaces []Interface `json:"network_interfaces"`
}

// Collect gathers what it can; individual probe failures just leave fields
// zeroed so a restricted environment never blocks a test run.
func Collect() Info {
	var info Info

	if hi, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hi.Platform, hi.PlatformVersion)
	}
	info.Hostname, _ = os.Hostname()

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemPercent = vm.UsedPercent
	}

	if ifaces, err := gnet.Interfaces(); err == nil {
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				info.Interfaces = append(info.Interfaces, Interface{
					Name: iface.Name,
					Addr: addr.Addr,
				})
			}
		}
	}
	return info
}

// NetCounters holds aggregate network IO totals since boot.
type NetCounters struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
	Errors      uint64
}

func ReadNetCounters() (NetCounters, error) {
	counters, err := gnet.IOCounters(false)
	if err != nil {
		return NetCounters{}, err
	}
	if len(counters) == 0 {
		return NetCounters{}, fmt.Errorf("no network counters available")
	}
	c := counters[0]
	return NetCounters{
		BytesSent:   c.BytesSent,
		BytesRecv:   c.BytesRecv,
		PacketsSent: c.PacketsSent,
		PacketsRecv: c.PacketsRecv,
		Errors:      uint64(c.Errin + c.Errout),
	}, nil
}
