package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestValidateDeviceID(t *testing.T) {
	tests := []struct {
		name     string
		deviceID string
		wantErr  bool
	}{
		{"usb serial", "1234567890ABCDEF", false},
		{"emulator", "emulator-5554", false},
		{"wireless", "192.168.1.100:5555", false},
		{"mdns", "adb-XJ8K2._adb-tls-connect._tcp.", false},
		{"empty", "", true},
		{"shell metachars", "device; rm -rf /", true},
		{"command substitution", "device$(whoami)", true},
		{"spaces", "my device", true},
		{"quotes", `dev"ice`, true},
		{"too long", strings.Repeat("a", 257), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDeviceID(tt.deviceID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDeviceID(%q) error = %v, wantErr %v", tt.deviceID, err, tt.wantErr)
			}
		})
	}
}

func TestLimiterReusedPerDevice(t *testing.T) {
	a := NewApp(&Config{AdbCmdsPerSecond: 10}, false)

	first := a.limiterFor("192.168.1.100:5555")
	second := a.limiterFor("192.168.1.100:5555")
	if first != second {
		t.Error("Same device must reuse the same limiter")
	}
	other := a.limiterFor("192.168.1.101:5555")
	if other == first {
		t.Error("Different devices must get independent limiters")
	}
}

func TestLimiterDefaultRate(t *testing.T) {
	a := NewApp(&Config{AdbCmdsPerSecond: 0}, false)
	l := a.limiterFor("emulator-5554")
	if l.Limit() != 20 {
		t.Errorf("Expected default rate 20/s, got %v", l.Limit())
	}
}

func TestGzipFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.db")
	dst := filepath.Join(dir, "app.db.gz")

	payload := strings.Repeat("sqlite page content ", 200)
	if err := os.WriteFile(src, []byte(payload), 0644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}

	if err := gzipFile(src, dst); err != nil {
		t.Fatalf("gzipFile: %v", err)
	}

	f, err := os.Open(dst)
	if err != nil {
		t.Fatalf("Failed to open snapshot: %v", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Snapshot is not valid gzip: %v", err)
	}
	defer gz.Close()

	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("Failed to decompress snapshot: %v", err)
	}
	if string(got) != payload {
		t.Error("Decompressed snapshot does not match the source")
	}
}

func TestGzipFileMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := gzipFile(filepath.Join(dir, "nope.db"), filepath.Join(dir, "out.gz")); err == nil {
		t.Error("Expected error for missing source file")
	}
}
