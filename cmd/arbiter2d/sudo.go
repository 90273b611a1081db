package main

import (
	"bytes"
	"fmt"
	"os/exec"
)

// runSudoTee writes value to path via `sudo tee`, for a daemon running
// unprivileged with a narrowly-scoped sudoers rule for cgroup control
// files, per spec.md §4.5's privileged-write collaborator.
func runSudoTee(path, value string) error {
	cmd := exec.Command("sudo", "tee", path)
	cmd.Stdin = bytes.NewBufferString(value)
	cmd.Stdout = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo tee %s: %w", path, err)
	}
	return nil
}
