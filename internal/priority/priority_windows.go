//go:build windows

package priority

import "golang.org/x/sys/windows"

// Raise sets this process's priority class to ABOVE_NORMAL, the exact class
// swyh-rs's Windows build requests on startup.
func Raise() error {
	handle := windows.CurrentProcess()
	return windows.SetPriorityClass(handle, windows.ABOVE_NORMAL_PRIORITY_CLASS)
}
