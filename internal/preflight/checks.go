package preflight

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies the filesystem holding path has at least
// minBytes available.
func CheckDiskSpace(name, path string, minBytes uint64) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%.1f GiB free, need %.1f GiB)",
			path, float64(free)/(1<<30), float64(minBytes)/(1<<30))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%.1f GiB free)", path, float64(free)/(1<<30))}
}

// CheckBinary verifies an external executable is resolvable on PATH.
func CheckBinary(name, command, description string) Result {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s not found (%s)", command, description)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckWorkerScript verifies a model worker script exists and is a file.
func CheckWorkerScript(name, script string) Result {
	script = strings.TrimSpace(script)
	if script == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(script)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", script, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", script)}
	}
	return Result{Name: name, Passed: true, Detail: script}
}
