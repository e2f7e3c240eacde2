package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/banshee-data/csi.report/internal/csi/chanspec"
)

func runArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, &out)
	return strings.TrimSpace(out.String()), err
}

func decodeBlob(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		t.Fatalf("output %q is not base64: %v", s, err)
	}
	if len(b) != chanspec.ParamsSize {
		t.Fatalf("blob is %d bytes, want %d", len(b), chanspec.ParamsSize)
	}
	return b
}

func TestMakecsiparamsFixture(t *testing.T) {
	got, err := runArgs(t, "-c", "36/40", "-C", "0x5", "-N", "0x7")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	const want = "JtgBdQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=="
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFiltersAndDelay(t *testing.T) {
	got, err := runArgs(t, "-c", "36/80", "-C", "0xf", "-N", "0xf",
		"-m", "aa:bb:cc:dd:ee:ff, 01:02:03:04:05:06", "-b", "0x88")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b := decodeBlob(t, got)
	if b[3] != 0xff {
		t.Errorf("mask byte = %#x, want 0xff", b[3])
	}
	if b[4] != 1 || b[5] != 0x88 {
		t.Errorf("first byte filter = %d/%#x, want 1/0x88", b[4], b[5])
	}
	if n := binary.LittleEndian.Uint16(b[6:8]); n != 2 {
		t.Errorf("MAC count = %d, want 2", n)
	}
	if !bytes.Equal(b[14:20], []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("second MAC = % x", b[14:20])
	}
	if d := binary.LittleEndian.Uint16(b[32:34]); d != chanspec.DefaultDelayMicros {
		t.Errorf("delay = %d, want default %d for 4x4", d, chanspec.DefaultDelayMicros)
	}

	got, err = runArgs(t, "-C", "0xf", "-N", "0xf", "-d", "7", "-e", "0")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	b = decodeBlob(t, got)
	if b[2] != 0 {
		t.Errorf("collect = %d, want 0", b[2])
	}
	if d := binary.LittleEndian.Uint16(b[32:34]); d != 7 {
		t.Errorf("delay = %d, want 7", d)
	}
}

func TestCommands(t *testing.T) {
	got, err := runArgs(t, "-commands", "-i", "eth5", "-c", "100/80")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 8 {
		t.Fatalf("got %d commands, want 8:\n%s", len(lines), got)
	}
	if !strings.Contains(lines[4], "chanspec 100/80") {
		t.Errorf("chanspec command = %q", lines[4])
	}
	if !strings.HasPrefix(lines[7], "/jffs/nexutil -I eth5 -s 500 -b -l 48 -v ") {
		t.Errorf("nexutil command = %q", lines[7])
	}
}

func TestInvalidArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad chanspec", []string{"-c", "abc"}},
		{"bad bandwidth", []string{"-c", "36/30"}},
		{"core mask too wide", []string{"-C", "0x1f"}},
		{"bad stream mask", []string{"-N", "x"}},
		{"bad mac", []string{"-m", "zz:zz"}},
		{"bad first byte", []string{"-b", "0x100"}},
		{"delay overflow", []string{"-d", "70000"}},
		{"unknown flag", []string{"-q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runArgs(t, tt.args...); err == nil {
				t.Errorf("run(%v) succeeded, want error", tt.args)
			}
		})
	}

	_, err := runArgs(t, "-m", "00:00:00:00:00:01,00:00:00:00:00:02,00:00:00:00:00:03,00:00:00:00:00:04,00:00:00:00:00:05")
	if !errors.Is(err, chanspec.ErrTooManyMACs) {
		t.Errorf("five MACs: got %v, want ErrTooManyMACs", err)
	}
}
