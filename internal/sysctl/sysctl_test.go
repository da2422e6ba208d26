package sysctl_test

import "testing"

import "github.com/ptr1337/bpftune/internal/sysctl"

func TestPathConvertsDotsToSlashes(t *testing.T) {
	got := sysctl.Path("net.ipv4.tcp_wmem")
	want := "/proc/sys/net/ipv4/tcp_wmem"
	if got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := sysctl.Read("does.not.exist.anywhere", 3)
	if err == nil {
		t.Fatal("expected error reading nonexistent sysctl file")
	}
}
