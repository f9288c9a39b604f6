package system

// HostInfo contains system identification information
type HostInfo struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platform_version"`
	KernelVersion   string `json:"kernel_version"`
	KernelArch      string `json:"kernel_arch"`
	Uptime          uint64 `json:"uptime"`
	UptimeHuman     string `json:"uptime_human"`
	BootTime        uint64 `json:"boot_time"`
	Procs           uint64 `json:"procs"`
}

// Environment describes whether quests can be driven on this host
type Environment struct {
	HostMode          string `json:"host_mode"`
	InjectionStrategy string `json:"injection_strategy"`
	SpoofingSupported bool   `json:"spoofing_supported"`
	TargetProcess     string `json:"target_process"`
	TargetRunning     bool   `json:"target_running"`
	TargetPID         int32  `json:"target_pid,omitempty"`
}
