package dnsfile

import (
	"os"
	"path/filepath"
	"testing"

	"dplaned/internal/resolvermode"
)

func TestWriter_FileMode_WritesResolvConfAndPrivateCopies(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{
		Mode:           resolvermode.ModeFile,
		ResolvConfPath: filepath.Join(dir, "resolv.conf"),
		RuntimeDir:     filepath.Join(dir, "run"),
	}
	fs := FlatState{Nameservers: []string{"9.9.9.9"}, Searches: []string{"example.com"}}
	if err := w.Write(fs, fs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := os.ReadFile(w.ResolvConfPath)
	if err != nil {
		t.Fatalf("read resolv.conf: %v", err)
	}
	if !containsLine(string(got), "nameserver 9.9.9.9") {
		t.Errorf("expected nameserver line, got:\n%s", got)
	}

	resolvConf, noStub := w.privateCopyPaths()
	if _, err := os.Stat(resolvConf); err != nil {
		t.Errorf("expected private copy at %s: %v", resolvConf, err)
	}
	if _, err := os.Stat(noStub); err != nil {
		t.Errorf("expected no-stub private copy at %s: %v", noStub, err)
	}
}

func TestWriter_SymlinkMode_WritesDirectlyWhenNotASymlink(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{
		Mode:           resolvermode.ModeSymlink,
		ResolvConfPath: filepath.Join(dir, "resolv.conf"),
		RuntimeDir:     filepath.Join(dir, "run"),
	}
	fs := FlatState{Nameservers: []string{"1.1.1.1"}}
	if err := w.Write(fs, fs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := os.ReadFile(w.ResolvConfPath)
	if err != nil {
		t.Fatalf("read resolv.conf: %v", err)
	}
	if !containsLine(string(got), "nameserver 1.1.1.1") {
		t.Errorf("expected direct content when system file is not a symlink, got:\n%s", got)
	}
}

func TestWriter_SymlinkMode_RepointsOwnSymlink(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{
		Mode:           resolvermode.ModeSymlink,
		ResolvConfPath: filepath.Join(dir, "resolv.conf"),
		RuntimeDir:     filepath.Join(dir, "run"),
	}
	resolvConf, _ := w.privateCopyPaths()
	if err := os.MkdirAll(filepath.Dir(resolvConf), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(resolvConf, w.ResolvConfPath); err != nil {
		t.Fatal(err)
	}

	fs := FlatState{Nameservers: []string{"1.1.1.1"}}
	if err := w.Write(fs, fs); err != nil {
		t.Fatalf("Write: %v", err)
	}

	target, err := os.Readlink(w.ResolvConfPath)
	if err != nil {
		t.Fatalf("expected system file to remain a symlink: %v", err)
	}
	if target != resolvConf {
		t.Errorf("expected symlink target %s, got %s", resolvConf, target)
	}
	got, err := os.ReadFile(resolvConf)
	if err != nil {
		t.Fatal(err)
	}
	if !containsLine(string(got), "nameserver 1.1.1.1") {
		t.Errorf("expected private copy content, got:\n%s", got)
	}
}

func TestWriter_SymlinkMode_LeavesForeignSymlinkAlone(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "other-resolv.conf")
	if err := os.WriteFile(other, []byte("foreign\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w := &Writer{
		Mode:           resolvermode.ModeSymlink,
		ResolvConfPath: filepath.Join(dir, "resolv.conf"),
		RuntimeDir:     filepath.Join(dir, "run"),
	}
	if err := os.Symlink(other, w.ResolvConfPath); err != nil {
		t.Fatal(err)
	}

	if err := w.Write(FlatState{Nameservers: []string{"1.1.1.1"}}, FlatState{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	target, err := os.Readlink(w.ResolvConfPath)
	if err != nil {
		t.Fatalf("expected foreign symlink preserved: %v", err)
	}
	if target != other {
		t.Errorf("expected foreign symlink target untouched, got %s", target)
	}
	got, _ := os.ReadFile(other)
	if string(got) != "foreign\n" {
		t.Errorf("expected foreign target content untouched, got %q", got)
	}
}

func TestNetconfigPayload_KeyedAssignments(t *testing.T) {
	fs := FlatState{
		Nameservers: []string{"10.0.0.1", "10.0.0.2"},
		Searches:    []string{"corp.example", "example.com"},
		NISDomain:   "nis.example",
		NISServers:  []string{"10.0.0.3"},
	}
	got := netconfigPayload(fs)
	want := "INTERFACE='dplaned'\n" +
		"DNSSEARCH='corp.example example.com'\n" +
		"DNSSERVERS='10.0.0.1 10.0.0.2'\n" +
		"NISDOMAIN='nis.example'\n" +
		"NISSERVERS='10.0.0.3'\n"
	if got != want {
		t.Errorf("netconfig payload mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriter_UnmanagedMode_LeavesSystemFileAlone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolv.conf")
	if err := os.WriteFile(path, []byte("untouched\n"), 0644); err != nil {
		t.Fatal(err)
	}
	w := &Writer{
		Mode:           resolvermode.ModeUnmanaged,
		ResolvConfPath: path,
		RuntimeDir:     filepath.Join(dir, "run"),
	}
	if err := w.Write(FlatState{Nameservers: []string{"1.1.1.1"}}, FlatState{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "untouched\n" {
		t.Errorf("expected unmanaged mode to leave system file untouched, got:\n%s", got)
	}
}

func containsLine(s, line string) bool {
	for _, l := range splitLines(s) {
		if l == line {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
