// Package session provides device connection handles and the thread-safe
// session pool for networka.
package session

import "context"

// State tracks the lifecycle of a session handle.
type State int

const (
	Unconnected State = iota
	Connecting
	Connected
	Closed
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is a live connection handle to one device. A session is owned by
// whichever caller opened it and is never shared between concurrent fan-out
// workers; only the pool may hold one across sequential calls.
type Session interface {
	// Connect establishes the connection to the device
	Connect(ctx context.Context) error

	// Disconnect terminates the connection. Safe to call more than once.
	Disconnect() error

	// ExecuteCommand runs a command on the device and returns its output
	ExecuteCommand(ctx context.Context, command string) (string, error)

	// DownloadFile copies a remote file to a local path
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// UploadFile copies a local file to a remote path
	UploadFile(ctx context.Context, localPath, remotePath string) error

	// Device returns the device name this session is bound to
	Device() string

	// State returns the current lifecycle state
	State() State
}
