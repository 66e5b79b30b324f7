// Package testutil holds helpers shared by the libvirt-backed tests.
package testutil

import (
	"bufio"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	utilexec "k8s.io/utils/exec"
)

const qemuConfPath = "/etc/libvirt/qemu.conf"

// commonLibvirtGroups are the groups qemu runs under on the usual distros.
var commonLibvirtGroups = []string{"libvirt", "libvirt-qemu", "kvm", "qemu"}

// RequireCommand skips the test when name is not on PATH.
func RequireCommand(t *testing.T, name string) {
	t.Helper()

	if _, err := utilexec.New().LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

// LibvirtImageDir returns a new directory below t.TempDir() that the qemu
// process can traverse and write disk images into. t.TempDir() alone is
// created 0700, which hides the images from the qemu user.
func LibvirtImageDir(t *testing.T) string {
	t.Helper()

	parent := t.TempDir()
	dir := filepath.Join(parent, "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating image directory %q: %v", dir, err)
	}

	// The directory and its ancestors below the temp root need +x for qemu
	// to reach the images.
	stop := filepath.Clean(os.TempDir())
	for d := dir; d != stop && d != filepath.Dir(d); d = filepath.Dir(d) {
		if err := os.Chmod(d, 0o755); err != nil {
			t.Logf("chmod %q: %v", d, err)
		}
	}

	runner := utilexec.New()
	for _, group := range libvirtGroups() {
		for _, args := range [][]string{
			{"-m", "g:" + group + ":rwx", dir},
			{"-d", "-m", "g:" + group + ":rwx", dir},
		} {
			if out, err := runner.Command("setfacl", args...).CombinedOutput(); err != nil {
				t.Logf("setfacl %v: %v: %s", args, err, out)
			}
		}
	}

	return dir
}

// libvirtGroups returns the group configured in qemu.conf plus every common
// libvirt group that exists on the host.
func libvirtGroups() []string {
	seen := make(map[string]bool)
	var groups []string
	add := func(g string) {
		if g != "" && !seen[g] {
			seen[g] = true
			groups = append(groups, g)
		}
	}

	if f, err := os.Open(qemuConfPath); err == nil {
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
			if ok && strings.TrimSpace(key) == "group" {
				add(strings.Trim(strings.TrimSpace(value), `"`))
			}
		}
	}

	for _, g := range commonLibvirtGroups {
		if _, err := user.LookupGroup(g); err == nil {
			add(g)
		}
	}
	return groups
}
