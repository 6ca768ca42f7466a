package probes

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SecurityCollector reports mandatory-access-control, firewall and
// file-permission posture. Gathering shells out to system tools, which is why
// the security channel runs on the slowest push cadence.
type SecurityCollector struct {
	sensitiveFiles map[string]string
}

func NewSecurityCollector() *SecurityCollector {
	return &SecurityCollector{
		sensitiveFiles: map[string]string{
			"/etc/shadow":          "640",
			"/etc/sudoers":         "440",
			"/etc/ssh/sshd_config": "600",
		},
	}
}

func (c *SecurityCollector) Name() string { return "security" }

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type securitySnapshot struct {
	Timestamp   time.Time                  `json:"timestamp"`
	Environment string                     `json:"environment"`
	Components  map[string]componentStatus `json:"components"`
}

func (c *SecurityCollector) Collect(ctx context.Context) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	vm := RunningInVM(ctx)
	snap := securitySnapshot{
		Timestamp: time.Now().UTC(),
		Components: map[string]componentStatus{
			"selinux":     c.checkSELinux(ctx, vm),
			"apparmor":    c.checkAppArmor(ctx, vm),
			"firewall":    c.checkFirewall(ctx, vm),
			"permissions": c.checkPermissions(vm),
		},
	}
	if vm {
		snap.Environment = "virtual_machine"
	} else {
		snap.Environment = "physical_machine"
	}
	return json.Marshal(snap)
}

// degraded downgrades errors to warnings inside a VM, where relaxed posture
// is expected.
func degraded(vm bool, message string) componentStatus {
	status := "error"
	if vm {
		status = "warning"
		message += " (acceptable in VM)"
	}
	return componentStatus{Status: status, Message: message}
}

func (c *SecurityCollector) checkSELinux(ctx context.Context, vm bool) componentStatus {
	out, err := exec.CommandContext(ctx, "getenforce").Output()
	if err != nil {
		return degraded(vm, "SELinux tools not installed")
	}
	switch strings.TrimSpace(string(out)) {
	case "Enforcing":
		return componentStatus{Status: "ok", Message: "SELinux is enforcing"}
	case "Permissive":
		return componentStatus{Status: "warning", Message: "SELinux is in permissive mode"}
	default:
		return degraded(vm, "SELinux is disabled")
	}
}

func (c *SecurityCollector) checkAppArmor(ctx context.Context, vm bool) componentStatus {
	out, err := exec.CommandContext(ctx, "aa-status").Output()
	if err != nil {
		return degraded(vm, "AppArmor is not active")
	}
	if strings.Contains(string(out), "profiles are loaded") {
		return componentStatus{Status: "ok", Message: "AppArmor is active with profiles loaded"}
	}
	return componentStatus{Status: "warning", Message: "AppArmor is active but no profiles loaded"}
}

func (c *SecurityCollector) checkFirewall(ctx context.Context, vm bool) componentStatus {
	out, err := exec.CommandContext(ctx, "systemctl", "is-active", "firewalld").Output()
	if err != nil || strings.TrimSpace(string(out)) != "active" {
		return degraded(vm, "Firewall is not active")
	}
	return componentStatus{Status: "ok", Message: "Firewall is active"}
}

func (c *SecurityCollector) checkPermissions(vm bool) componentStatus {
	var insecure []string
	for path, want := range c.sensitiveFiles {
		info, err := os.Stat(path)
		if err != nil {
			insecure = append(insecure, path+": not found")
			continue
		}
		got := strings.TrimPrefix(info.Mode().Perm().String(), "-")
		if octal(info.Mode().Perm()) != want {
			insecure = append(insecure, path+": "+got)
		}
	}
	if len(insecure) == 0 {
		return componentStatus{Status: "ok", Message: "All file permissions are secure"}
	}
	return degraded(vm, "Insecure permissions: "+strings.Join(insecure, ", "))
}

func octal(m os.FileMode) string {
	const digits = "01234567"
	return string([]byte{
		digits[(m>>6)&7],
		digits[(m>>3)&7],
		digits[m&7],
	})
}

// RunningInVM detects virtualized environments via cpuinfo flags, DMI product
// names and systemd-detect-virt.
func RunningInVM(ctx context.Context) bool {
	markers := []string{"hypervisor", "vmware", "virtualbox", "kvm", "xen", "qemu"}
	if data, err := os.ReadFile("/proc/cpuinfo"); err == nil {
		info := strings.ToLower(string(data))
		for _, m := range markers {
			if strings.Contains(info, m) {
				return true
			}
		}
	}
	for _, path := range []string{"/sys/devices/virtual/dmi/id/product_name", "/sys/hypervisor/type"} {
		if data, err := os.ReadFile(path); err == nil {
			content := strings.ToLower(string(data))
			for _, m := range markers {
				if strings.Contains(content, m) {
					return true
				}
			}
		}
	}
	if out, err := exec.CommandContext(ctx, "systemd-detect-virt").Output(); err == nil {
		if v := strings.TrimSpace(string(out)); v != "" && v != "none" {
			return true
		}
	}
	return false
}
