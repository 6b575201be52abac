package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// PIDInfo is the content of worker.pid. The bridge reads it to find a
// running worker's port before probing health.
type PIDInfo struct {
	PID            int   `json:"pid"`
	Port           int   `json:"port"`
	StartedAtEpoch int64 `json:"started_at_epoch"`
}

// WritePIDFile records this process as the running worker. Fails when a
// different live worker already holds the file, enforcing the singleton.
func WritePIDFile(port int) error {
	path, err := PIDPath()
	if err != nil {
		return err
	}

	if existing, err := ReadPIDFile(); err == nil && existing.PID != os.Getpid() {
		if processAlive(existing.PID) {
			return fmt.Errorf("worker already running (pid %d, port %d)", existing.PID, existing.Port)
		}
		// Stale file from a crashed worker; take over.
	}

	info := PIDInfo{PID: os.Getpid(), Port: port, StartedAtEpoch: time.Now().UnixMilli()}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal pid info: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: pid file is not sensitive
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile loads worker.pid. os.ErrNotExist when no worker has started.
func ReadPIDFile() (*PIDInfo, error) {
	path, err := PIDPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path derived from trusted data dir
	if err != nil {
		return nil, err
	}
	var info PIDInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	return &info, nil
}

// RemovePIDFile deletes worker.pid if this process owns it.
func RemovePIDFile() error {
	path, err := PIDPath()
	if err != nil {
		return err
	}
	info, err := ReadPIDFile()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.PID != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

// WorkerAlive reports whether worker.pid names a live process and, if so,
// its recorded port.
func WorkerAlive() (bool, int) {
	info, err := ReadPIDFile()
	if err != nil {
		return false, 0
	}
	if !processAlive(info.PID) {
		return false, 0
	}
	return true, info.Port
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
