package systemd

import (
	"fmt"
	"net"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Socket names expected in the FileDescriptorName= directives of ktime.socket
const (
	AdminSocket   = "admin"
	MetricsSocket = "metrics"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Admin     net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors
// Returns nil listeners if not running under socket activation
func GetListeners() (*Listeners, error) {
	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return &Listeners{}, nil
	}

	// Requires systemd 227+ for named descriptors
	named, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	return fromNamed(named), nil
}

func fromNamed(named map[string][]net.Listener) *Listeners {
	listeners := &Listeners{Activated: true}

	if lns, ok := named[AdminSocket]; ok && len(lns) > 0 {
		listeners.Admin = lns[0]
	}
	if lns, ok := named[MetricsSocket]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners
}

// NotifyReady sends READY=1 notification to systemd.
// Returns false when not running under systemd.
func NotifyReady() (bool, error) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		return false, fmt.Errorf("failed to send sd_notify: %w", err)
	}
	return sent, nil
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() (bool, error) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		return false, fmt.Errorf("failed to send sd_notify stopping: %w", err)
	}
	return sent, nil
}
