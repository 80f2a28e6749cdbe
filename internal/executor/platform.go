package executor

import (
	"strings"
	"sync"
)

// Platform describes the vendor-specific command sequences for maintenance
// operations. The sequences themselves are data; anything more elaborate
// belongs to an external platform package that registers its own entry.
type Platform struct {
	// BackupCommands produce the configuration export that forms the
	// backup payload.
	BackupCommands []string

	// FirmwareDir is the remote directory receiving firmware images.
	FirmwareDir string

	// FirmwareInstall is the install sequence; the placeholder %IMAGE% is
	// replaced with the uploaded image file name.
	FirmwareInstall []string
}

// FirmwarePath returns the remote path for an uploaded image.
func (p Platform) FirmwarePath(imageName string) string {
	dir := strings.TrimSuffix(p.FirmwareDir, "/")
	if dir == "" {
		return imageName
	}
	return dir + "/" + imageName
}

// FirmwareCommands returns the install sequence with the image name
// substituted.
func (p Platform) FirmwareCommands(imageName string) []string {
	commands := make([]string, len(p.FirmwareInstall))
	for i, command := range p.FirmwareInstall {
		commands[i] = strings.ReplaceAll(command, "%IMAGE%", imageName)
	}
	return commands
}

var (
	platformMu sync.RWMutex
	platforms  = map[string]Platform{
		"mikrotik_routeros": {
			BackupCommands:  []string{"/export"},
			FirmwareDir:     "/",
			FirmwareInstall: []string{"/system/reboot"},
		},
		"cisco_iosxe": {
			BackupCommands:  []string{"show running-config"},
			FirmwareDir:     "bootflash:",
			FirmwareInstall: []string{"install add file bootflash:%IMAGE% activate commit"},
		},
		"arista_eos": {
			BackupCommands:  []string{"show running-config"},
			FirmwareDir:     "/mnt/flash",
			FirmwareInstall: []string{"install source flash:%IMAGE%"},
		},
		"linux": {
			BackupCommands: []string{"cat /etc/os-release", "ip addr show"},
			FirmwareDir:    "/tmp",
		},
	}

	// genericPlatform covers unknown platforms with a conservative export.
	genericPlatform = Platform{
		BackupCommands: []string{"show running-config"},
	}
)

// PlatformFor returns the registered platform for a name, or a generic
// fallback for unknown platforms.
func PlatformFor(name string) Platform {
	platformMu.RLock()
	defer platformMu.RUnlock()
	if p, ok := platforms[name]; ok {
		return p
	}
	return genericPlatform
}

// RegisterPlatform adds or replaces a platform definition. Intended for
// callers embedding the executor with their own vendor support.
func RegisterPlatform(name string, p Platform) {
	platformMu.Lock()
	defer platformMu.Unlock()
	platforms[name] = p
}
