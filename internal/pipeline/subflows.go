package pipeline

// Reusable sub-trees shared by several controllers. Constructors return
// unnumbered nodes; the builder assigns ids when the tree is grafted.

// MachineOSInit prepares freshly imported hosts before any database
// component lands on them.
func MachineOSInit(ips []string) *Node {
	return SubProcess("machine os init",
		Activity("push os init config", "job.push_config", map[string]any{
			"ips":       ips,
			"conf_type": "osinit",
		}),
		Activity("exec os init actuator", "job.exec_actuator", map[string]any{
			"ips":      ips,
			"job_type": "os_init",
		}),
	)
}

// UpdateSystemInfo refreshes machine metadata from the CMDB after hosts
// changed roles or were recycled.
func UpdateSystemInfo(ips []string) *Node {
	return SubProcess("update system info",
		Activity("collect sysinfo", "sys.collect_sysinfo", map[string]any{
			"ips": ips,
		}),
		Activity("update machine records", "sys.update_system_info", map[string]any{
			"ips": ips,
		}),
	)
}

// AlarmShield suppresses monitoring on the touched hosts for the duration
// of the change. The shield service records the shield id it created in
// trans data under "alarm_shield_id" so the trailing unshield activity can
// release exactly that shield.
func AlarmShield(ips []string, durationSecs int) *Node {
	return Activity("shield alarms", "monitor.shield_alarm", map[string]any{
		"ips":           ips,
		"duration_secs": durationSecs,
	})
}

// AlarmUnshield releases the shield created by AlarmShield. It reads the
// shield id from trans data, so it must run downstream of the shield node.
func AlarmUnshield() *Node {
	return Activity("unshield alarms", "monitor.unshield_alarm", nil)
}
