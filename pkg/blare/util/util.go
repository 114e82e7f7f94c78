package util

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDirExists creates the given directory path if it doesn't already exist.
func EnsureDirExists(path string) error {
	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("ensure directory exists (%s): %w", path, err)
	}
	return nil
}

// FileExists checks if a file exists and is not a directory.
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Linux returns true if we're running on Linux.
func Linux() bool {
	return runtime.GOOS == "linux"
}

// Windows returns true if we're running on Windows.
func Windows() bool {
	return runtime.GOOS == "windows"
}

// SetupCloseHandler creates a listener on a new goroutine that will notify
// the program if it receives an interrupt signal from the OS.
func SetupCloseHandler() chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}

// OpenExternal spawns a detached process (e.g., opening a file or URL) with the given command and argument.
func OpenExternal(logger *zap.SugaredLogger, cmd string, arg string) error {
	command := createExternalCommand(cmd, arg)
	if err := command.Run(); err != nil {
		logger.Warnw("Failed to spawn detached process", "command", cmd, "argument", arg, "error", err)
		return fmt.Errorf("spawn detached proc: %w", err)
	}
	return nil
}

// Editor returns the program used to open text files on this platform.
func Editor() string {
	switch runtime.GOOS {
	case "linux":
		return "xdg-open"
	case "darwin":
		return "open"
	}
	return "notepad.exe"
}

func createExternalCommand(cmd string, arg string) *exec.Cmd {
	if !Windows() {
		return exec.Command(cmd, arg)
	}
	// cmd.exe so the editor detaches from our console
	return exec.Command("cmd.exe", "/C", "start", "/b", cmd, arg)
}
