package accel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func script(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script probe")
	}
	p := filepath.Join(t.TempDir(), "probe.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return "sh " + p
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name       string
		command    string
		wantStatus string
		wantCount  int
	}{
		{
			name:       "two_gpus",
			command:    script(t, "echo 'NVIDIA A100, 535.104.05'\necho 'NVIDIA A100, 535.104.05'\n"),
			wantStatus: StatusSuccess,
			wantCount:  2,
		},
		{
			name:       "no_devices",
			command:    script(t, "exit 0\n"),
			wantStatus: StatusWarning,
		},
		{
			name:       "probe_fails",
			command:    script(t, "echo 'NVIDIA-SMI has failed' >&2\nexit 9\n"),
			wantStatus: StatusError,
		},
		{
			name:       "binary_missing",
			command:    "definitely-not-nvidia-smi-xyz",
			wantStatus: StatusWarning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProbe(tt.command, 5*time.Second)
			if err != nil {
				t.Fatal(err)
			}
			r := p.Check(context.Background())
			if r.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q (%s)", r.Status, tt.wantStatus, r.Message)
			}
			if r.DeviceCount != tt.wantCount {
				t.Errorf("DeviceCount = %d, want %d", r.DeviceCount, tt.wantCount)
			}
			if tt.wantCount > 0 && (r.DeviceName != "NVIDIA A100" || r.DriverVersion != "535.104.05" || !r.CUDAAvailable) {
				t.Errorf("report = %+v", r)
			}
		})
	}
}

func TestNewProbeAppendsQuery(t *testing.T) {
	p, err := NewProbe("nvidia-smi", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.cmd) != 3 || p.cmd[1] != "--query-gpu=name,driver_version" {
		t.Errorf("cmd = %v", p.cmd)
	}
	if _, err := NewProbe("", 0); err == nil {
		t.Error("expected error for empty command")
	}
}
