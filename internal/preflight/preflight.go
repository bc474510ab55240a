// Package preflight validates the environment before ingestion:
// data directory access, free disk space, and embedding provider
// reachability. Results distinguish hard failures from conditions
// the engine degrades around, such as a missing provider.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chunkstack/chunkstack/internal/embed"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// Result holds the outcome of a single check.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Required bool   `json:"required"`
}

// IsCritical reports a required check that failed.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// MinDiskSpaceBytes is the free space floor for the data directory.
const MinDiskSpaceBytes = 200 * 1024 * 1024

// Checker runs environment checks for a data directory and provider.
type Checker struct {
	dataDir  string
	provider embed.Provider
}

// New creates a checker. provider may be nil; the provider check then
// reports the degraded lexical-only mode as a warning.
func New(dataDir string, provider embed.Provider) *Checker {
	return &Checker{dataDir: dataDir, provider: provider}
}

// RunAll runs every check and returns results in a stable order.
func (c *Checker) RunAll(ctx context.Context) []Result {
	return []Result{
		c.CheckDataDir(),
		c.CheckDiskSpace(),
		c.CheckProvider(ctx),
	}
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// CheckDataDir verifies the data directory exists and is writable.
func (c *Checker) CheckDataDir() Result {
	result := Result{Name: "data_dir", Required: true}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create %s: %v", c.dataDir, err)
		return result
	}

	probe := filepath.Join(c.dataDir, ".write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s is not writable: %v", c.dataDir, err)
		return result
	}
	_ = os.Remove(probe)

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s is writable", c.dataDir)
	return result
}

// CheckDiskSpace verifies free space at the data directory.
func (c *Checker) CheckDiskSpace() Result {
	result := Result{Name: "disk_space", Required: true}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.dataDir, &stat); err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("cannot stat filesystem: %v", err)
		result.Required = false
		return result
	}

	available := stat.Bavail * uint64(stat.Bsize)
	result.Message = fmt.Sprintf("%s free (minimum: %s)",
		formatBytes(available), formatBytes(MinDiskSpaceBytes))
	if available < MinDiskSpaceBytes {
		result.Status = StatusFail
	} else {
		result.Status = StatusPass
	}
	return result
}

// CheckProvider probes the embedding provider. Unreachable providers
// warn rather than fail: the engine runs lexical-only without one.
func (c *Checker) CheckProvider(ctx context.Context) Result {
	result := Result{Name: "embedding_provider", Required: false}

	if c.provider == nil {
		result.Status = StatusWarn
		result.Message = "no provider configured; retrieval is lexical-only"
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if !c.provider.Available(probeCtx) {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not reachable; retrieval degrades to lexical-only", c.provider.Name())
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%d dimensions)", c.provider.Name(), c.provider.Dimensions())
	return result
}

func formatBytes(bytes uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
