package hostpath

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const waitDelay = 500 * time.Millisecond

// Host answers the single question the resolver asks: where the current
// user's application data lives.
type Host interface {
	UserDataPath(ctx context.Context) (string, error)
}

// HostFunc adapts a function to the Host interface.
type HostFunc func(ctx context.Context) (string, error)

// UserDataPath calls f(ctx).
func (f HostFunc) UserDataPath(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticHost always reports dir.
func StaticHost(dir string) Host {
	return HostFunc(func(context.Context) (string, error) {
		return dir, nil
	})
}

// UserDataHost reports <user config dir>/<AppName>, the same directory a
// desktop shell exposes as its per-user data path.
type UserDataHost struct {
	AppName string
}

// UserDataPath implements Host.
func (h UserDataHost) UserDataPath(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(h.AppName) == "" {
		return "", errors.New("application name is empty")
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine user config directory: %w", err)
	}
	return filepath.Join(base, h.AppName), nil
}

// CommandHost runs a helper executable and reads the path from the first
// line of its standard output.
type CommandHost struct {
	Path string
	Args []string
}

// UserDataPath implements Host. A non-zero exit, empty output or an expired
// context are failures.
func (h CommandHost) UserDataPath(ctx context.Context) (string, error) {
	if h.Path == "" {
		return "", errors.New("host command is empty")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding stdout open must not outlive the deadline.
	cmd.WaitDelay = waitDelay

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("host command %s: %w", h.Path, ctxErr)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("host command %s failed: %w: %s", h.Path, err, msg)
		}
		return "", fmt.Errorf("host command %s failed: %w", h.Path, err)
	}

	scanner := bufio.NewScanner(&stdout)
	if !scanner.Scan() {
		return "", fmt.Errorf("host command %s produced no output", h.Path)
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return "", fmt.Errorf("host command %s produced an empty first line", h.Path)
	}
	return line, nil
}

// NewCommandHost builds a CommandHost from an argv style slice.
func NewCommandHost(argv []string) (CommandHost, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return CommandHost{}, errors.New("host command is empty")
	}
	return CommandHost{Path: argv[0], Args: append([]string(nil), argv[1:]...)}, nil
}
