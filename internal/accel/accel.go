package accel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
)

// Report statuses.
const (
	StatusSuccess = "success"
	StatusWarning = "warning"
	StatusError   = "error"
)

// Device is one accelerator found by the probe.
type Device struct {
	Name          string `json:"name"`
	DriverVersion string `json:"driver_version"`
}

// Report is the diagnostics response.
type Report struct {
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	CUDAAvailable bool     `json:"cuda_available"`
	DeviceCount   int      `json:"device_count"`
	DeviceName    string   `json:"device_name,omitempty"`
	DriverVersion string   `json:"driver_version,omitempty"`
	Devices       []Device `json:"devices,omitempty"`
}

// Probe queries the local accelerator with nvidia-smi (or a configured
// equivalent that prints "name, driver_version" CSV lines).
type Probe struct {
	cmd     []string
	timeout time.Duration
}

// NewProbe parses command. The CSV query flags are appended when the command
// is a bare binary name.
func NewProbe(command string, timeout time.Duration) (*Probe, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse probe command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("probe command is empty")
	}
	if len(args) == 1 {
		args = append(args, "--query-gpu=name,driver_version", "--format=csv,noheader")
	}
	return &Probe{cmd: args, timeout: timeout}, nil
}

// Check runs the probe. It never fails: a missing binary is reported as a
// warning (CPU mode) and a failing one as an error.
func (p *Probe) Check(ctx context.Context) Report {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, p.cmd[0], p.cmd[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return Report{Status: StatusWarning, Message: "accelerator unavailable, running in CPU mode"}
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return Report{Status: StatusError, Message: "accelerator probe failed: " + msg}
	}

	devices := parseDevices(stdout.String())
	if len(devices) == 0 {
		return Report{Status: StatusWarning, Message: "no accelerator devices found, running in CPU mode"}
	}
	return Report{
		Status:        StatusSuccess,
		Message:       "accelerator environment OK",
		CUDAAvailable: true,
		DeviceCount:   len(devices),
		DeviceName:    devices[0].Name,
		DriverVersion: devices[0].DriverVersion,
		Devices:       devices,
	}
}

func parseDevices(out string) []Device {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, driver, _ := strings.Cut(line, ",")
		devices = append(devices, Device{
			Name:          strings.TrimSpace(name),
			DriverVersion: strings.TrimSpace(driver),
		})
	}
	return devices
}
