package simctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/devicelab-dev/simkeeper/pkg/logger"
)

// Client issues simctl commands against one device at a time. Every
// operation is synchronous: it returns or fails before the call
// completes, and a timeout kills the underlying command.
type Client struct {
	run func(timeout time.Duration, args ...string) ([]byte, error)
}

// NewClient creates a Client backed by xcrun simctl.
func NewClient() *Client {
	return &Client{run: runSimctl}
}

func runSimctl(timeout time.Duration, args ...string) ([]byte, error) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "xcrun", append([]string{"simctl"}, args...)...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("simctl %s timed out after %v", args[0], timeout)
	}
	return output, err
}

// Boot boots the device. Already-booted is not an error; the caller is
// responsible for waiting until the device reports Booted.
func (c *Client) Boot(udid string) error {
	logger.Info("booting simulator: %s", udid)
	output, err := c.run(0, "boot", udid)
	if err != nil {
		if strings.Contains(string(output), "current state: Booted") {
			logger.Info("simulator already booted: %s", udid)
			return nil
		}
		return fmt.Errorf("failed to boot simulator: %s", firstLine(output, err))
	}
	return nil
}

// Shutdown shuts the device down. Already-shutdown is not an error.
func (c *Client) Shutdown(udid string) error {
	logger.Info("shutting down simulator: %s", udid)
	output, err := c.run(0, "shutdown", udid)
	if err != nil {
		if strings.Contains(string(output), "current state: Shutdown") {
			logger.Info("simulator already shutdown: %s", udid)
			return nil
		}
		return fmt.Errorf("failed to shutdown simulator: %s", firstLine(output, err))
	}
	return nil
}

// Erase wipes the device's data directory. The device must be shut
// down first; simctl rejects erasing a booted device.
func (c *Client) Erase(udid string, timeout time.Duration) error {
	logger.Info("erasing simulator: %s", udid)
	output, err := c.run(timeout, "erase", udid)
	if err != nil {
		return fmt.Errorf("failed to erase simulator: %s", firstLine(output, err))
	}
	return nil
}

// Install installs the app bundle at appPath onto the device.
func (c *Client) Install(udid, appPath string, timeout time.Duration) error {
	logger.Info("installing %s on %s", appPath, udid)
	output, err := c.run(timeout, "install", udid, appPath)
	if err != nil {
		return fmt.Errorf("failed to install app: %s", firstLine(output, err))
	}
	return nil
}

// Uninstall removes the app identified by bundleID from the device.
func (c *Client) Uninstall(udid, bundleID string, timeout time.Duration) error {
	logger.Info("uninstalling %s from %s", bundleID, udid)
	output, err := c.run(timeout, "uninstall", udid, bundleID)
	if err != nil {
		return fmt.Errorf("failed to uninstall app: %s", firstLine(output, err))
	}
	return nil
}

// Launch starts the app identified by bundleID on the device. A
// successful return does not guarantee the process is schedulable yet;
// callers verify by waiting for the executable's process.
func (c *Client) Launch(udid, bundleID string, timeout time.Duration) error {
	logger.Info("launching %s on %s", bundleID, udid)
	output, err := c.run(timeout, "launch", udid, bundleID)
	if err != nil {
		return fmt.Errorf("failed to launch app: %s", firstLine(output, err))
	}
	return nil
}

// OpenSimulatorApp opens the Simulator UI application.
func (c *Client) OpenSimulatorApp() error {
	cmd := exec.Command("open", "-a", "Simulator")
	if err := cmd.Run(); err != nil {
		logger.Debug("failed to open Simulator app: %v", err)
		return err
	}
	return nil
}

func firstLine(output []byte, err error) string {
	s := strings.TrimSpace(string(output))
	if s == "" {
		return err.Error()
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
