package drive

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// DirectOpen decides which local programs should bypass the filesystem:
// when a matching process opens a file, the process is killed and relaunched
// pointed straight at the item's direct URL. The whole mechanism is
// best-effort; it must never fail an open or hang the mount.
type DirectOpen struct {
	// Names matches the lower-cased executable base name.
	Names func(string) bool
	// Exes matches the full executable path.
	Exes func(string) bool

	log *logrus.Entry
}

func (d *DirectOpen) enabled() bool {
	return d != nil && (d.Names != nil || d.Exes != nil)
}

// Attempt inspects the calling process and, on an allow-list match, kills
// it and schedules a relaunch against the direct URL. It reports whether a
// handoff was initiated; any failure before the kill is logged and the
// caller falls back to a normal open.
func (d *DirectOpen) Attempt(pid uint32, directURL func() (string, error)) bool {
	if !d.enabled() || pid == 0 {
		return false
	}
	exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid))
	if err != nil {
		d.log.WithError(err).WithField("pid", pid).Debug("can't inspect caller")
		return false
	}
	name := strings.ToLower(filepath.Base(exe))
	if !(d.Names != nil && d.Names(name) || d.Exes != nil && d.Exes(exe)) {
		return false
	}
	if err := syscall.Kill(int(pid), syscall.SIGKILL); err != nil {
		d.log.WithError(err).WithField("pid", pid).Error("can't kill caller for direct open")
		return false
	}
	go func() {
		// give the kernel a moment to reap the old process
		time.Sleep(10 * time.Millisecond)
		url, err := directURL()
		if err == nil {
			err = exec.Command(exe, url).Start()
		}
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"exe": exe, "pid": pid,
			}).Error("direct-open relaunch failed")
		}
	}()
	return true
}
