package system

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/ngenohkevin/questdeck-agent/config"
	"github.com/ngenohkevin/questdeck-agent/internal/process"
)

// GetHostInfo reads host identification through gopsutil
func GetHostInfo(ctx context.Context) (*HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	return &HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		KernelArch:      info.KernelArch,
		Uptime:          info.Uptime,
		UptimeHuman:     formatUptime(info.Uptime),
		BootTime:        info.BootTime,
		Procs:           info.Procs,
	}, nil
}

// ProcessFinder locates a running process by name
type ProcessFinder interface {
	FindByName(ctx context.Context, name string) (*process.ProcessInfo, error)
}

// CheckEnvironment reports the configured host mode and whether the host app is running
func CheckEnvironment(ctx context.Context, cfg *config.Config, finder ProcessFinder) Environment {
	env := Environment{
		HostMode:          cfg.HostMode,
		InjectionStrategy: cfg.InjectionStrategy,
		SpoofingSupported: cfg.SpoofingSupported(),
		TargetProcess:     cfg.TargetProcess,
	}
	if finder == nil || cfg.TargetProcess == "" {
		return env
	}

	if proc, err := finder.FindByName(ctx, cfg.TargetProcess); err == nil && proc != nil {
		env.TargetRunning = true
		env.TargetPID = proc.PID
	}
	return env
}

func formatUptime(seconds uint64) string {
	d := time.Duration(seconds) * time.Second

	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
