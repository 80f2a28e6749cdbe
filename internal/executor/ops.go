package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/narrowin/networka-sub002/internal/session"
	"github.com/narrowin/networka-sub002/internal/template"
)

// Run executes the configured commands on every resolved device.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.Commands) == 0 {
		return nil, fmt.Errorf("run requires at least one command")
	}

	return r.fanOut(ctx, "run", opts, func(ctx context.Context, s session.Session, t task, res *Result) error {
		res.Outputs = make(map[string]string, len(opts.Commands))

		for _, command := range opts.Commands {
			if opts.Cancel != nil && opts.Cancel.Hard() {
				return fmt.Errorf("canceled")
			}

			rendered := command
			if template.IsTemplate(command) {
				var err error
				rendered, err = template.Render(command, t.name, t.dev)
				if err != nil {
					return fmt.Errorf("template rendering failed: %w", err)
				}
			}

			output, err := r.executeOne(ctx, s, &opts, rendered)
			res.Outputs[rendered] = output
			if err != nil {
				return err
			}

			streamLines(t.name, output, opts.OnOutput)
		}
		return nil
	})
}

// executeOne runs a single command under the per-command timeout.
func (r *Runner) executeOne(ctx context.Context, s session.Session, opts *Options, command string) (string, error) {
	cmdCtx, cancel := commandContext(ctx, opts)
	defer cancel()
	return s.ExecuteCommand(cmdCtx, command)
}

// Backup collects each device's configuration export and writes it under
// the backup directory, one file per device.
func (r *Runner) Backup(ctx context.Context, opts Options) (*Report, error) {
	if opts.BackupDir == "" {
		opts.BackupDir = r.cfg.Settings.BackupDir
	}

	stamp := time.Now().Format("20060102-150405")

	return r.fanOut(ctx, "backup", opts, func(ctx context.Context, s session.Session, t task, res *Result) error {
		commands := PlatformFor(t.dev.Platform).BackupCommands
		var payload strings.Builder

		for _, command := range commands {
			if opts.Cancel != nil && opts.Cancel.Hard() {
				return fmt.Errorf("canceled")
			}

			output, err := r.executeOne(ctx, s, &opts, command)
			if err != nil {
				return fmt.Errorf("backup command %q: %w", command, err)
			}
			payload.WriteString(output)
			if !strings.HasSuffix(output, "\n") {
				payload.WriteString("\n")
			}
		}

		path := filepath.Join(opts.BackupDir, fmt.Sprintf("%s_%s.cfg", t.name, stamp))
		if err := os.MkdirAll(opts.BackupDir, 0o755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(payload.String()), 0o644); err != nil {
			return fmt.Errorf("failed to write backup file: %w", err)
		}

		res.Files = []string{path}
		if opts.OnProgress != nil {
			opts.OnProgress(fmt.Sprintf("%s: backup written to %s", t.name, path))
		}
		return nil
	})
}

// Upload copies a local file to the same remote path on every device.
func (r *Runner) Upload(ctx context.Context, opts Options) (*Report, error) {
	if opts.LocalPath == "" || opts.RemotePath == "" {
		return nil, fmt.Errorf("upload requires a local and a remote path")
	}

	return r.fanOut(ctx, "upload", opts, func(ctx context.Context, s session.Session, t task, res *Result) error {
		if err := s.UploadFile(ctx, opts.LocalPath, opts.RemotePath); err != nil {
			return err
		}
		res.Files = []string{opts.RemotePath}
		if opts.OnProgress != nil {
			opts.OnProgress(fmt.Sprintf("%s: uploaded %s", t.name, opts.RemotePath))
		}
		return nil
	})
}

// Download copies a remote file from every device into the local directory,
// prefixing each copy with the device name to avoid collisions.
func (r *Runner) Download(ctx context.Context, opts Options) (*Report, error) {
	if opts.RemotePath == "" {
		return nil, fmt.Errorf("download requires a remote path")
	}
	destDir := opts.LocalPath
	if destDir == "" {
		destDir = "."
	}

	return r.fanOut(ctx, "download", opts, func(ctx context.Context, s session.Session, t task, res *Result) error {
		local := filepath.Join(destDir, t.name+"_"+filepath.Base(opts.RemotePath))
		if err := s.DownloadFile(ctx, opts.RemotePath, local); err != nil {
			return err
		}
		res.Files = []string{local}
		if opts.OnProgress != nil {
			opts.OnProgress(fmt.Sprintf("%s: downloaded to %s", t.name, local))
		}
		return nil
	})
}

// Firmware uploads the image to each device and runs the platform's install
// sequence. The final command typically reboots the device, so its output
// may be truncated; that is not treated as a failure by the platform
// sequences shipped here.
func (r *Runner) Firmware(ctx context.Context, opts Options) (*Report, error) {
	if opts.ImagePath == "" {
		return nil, fmt.Errorf("firmware requires an image path")
	}

	imageName := filepath.Base(opts.ImagePath)

	return r.fanOut(ctx, "firmware", opts, func(ctx context.Context, s session.Session, t task, res *Result) error {
		platform := PlatformFor(t.dev.Platform)

		remote := platform.FirmwarePath(imageName)
		if opts.OnProgress != nil {
			opts.OnProgress(fmt.Sprintf("%s: uploading %s", t.name, imageName))
		}
		if err := s.UploadFile(ctx, opts.ImagePath, remote); err != nil {
			return fmt.Errorf("firmware upload: %w", err)
		}
		res.Files = []string{remote}

		for _, command := range platform.FirmwareCommands(imageName) {
			if opts.Cancel != nil && opts.Cancel.Hard() {
				return fmt.Errorf("canceled")
			}

			output, err := r.executeOne(ctx, s, &opts, command)
			if err != nil {
				return fmt.Errorf("firmware command %q: %w", command, err)
			}
			streamLines(t.name, output, opts.OnOutput)
		}

		if opts.OnProgress != nil {
			opts.OnProgress(fmt.Sprintf("%s: firmware staged", t.name))
		}
		return nil
	})
}

// streamLines feeds command output to the per-line callback.
func streamLines(device, output string, onOutput func(device, line string)) {
	if onOutput == nil || output == "" {
		return
	}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		onOutput(device, scanner.Text())
	}
}
