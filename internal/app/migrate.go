package app

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Migration marker and report file names. The lock lives in the legacy
// directory so a half-finished migration is detected on the next run; the
// report lives in the new directory next to the data it describes.
const (
	migrationLockName   = "migration.lock"
	migrationReportName = "migration-report.json"
)

// Migration statuses reported by MigrateDataDir.
const (
	MigrationCompleted = "completed"
	MigrationDryRun    = "dry-run"
	MigrationSkipped   = "skipped"
)

// MigrateOptions control the one-shot data directory migration.
type MigrateOptions struct {
	// DryRun prints the plan without creating the destination.
	DryRun bool
	// Force re-runs a locked migration and overwrites existing destination
	// files. Without it the migration never touches a file that exists.
	Force bool
}

// MigrationFile is one entry in the migration plan or result.
type MigrationFile struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	Status string `json:"status"` // planned | copied | overwritten | exists
}

// MigrationReport summarises a migration run. It is returned to the caller
// and, for real runs, persisted as JSON in the new data directory.
type MigrationReport struct {
	Status       string          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	LegacyDir    string          `json:"legacyDir"`
	CanonicalDir string          `json:"canonicalDir"`
	Files        []MigrationFile `json:"files,omitempty"`
	CopiedFiles  int             `json:"copiedFiles"`
	CopiedBytes  int64           `json:"copiedBytes"`
	SkippedFiles int             `json:"skippedFiles"`
	CompletedAt  string          `json:"completedAt,omitempty"`
}

// MigrateDataDir copies a legacy ~/.codex-mem data directory into the
// canonical ~/.codexmem location. Files are copied, never moved; the legacy
// directory is left intact so the migration is safe to inspect and revert.
// A lock file in the legacy directory marks the attempt, so subsequent runs
// skip unless forced.
func MigrateDataDir(opts MigrateOptions) (*MigrationReport, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determine home directory: %w", err)
	}
	legacy := filepath.Join(home, legacyDataDirName)
	canonical := filepath.Join(home, dataDirName)
	return migrateBetween(legacy, canonical, opts)
}

func migrateBetween(legacy, canonical string, opts MigrateOptions) (*MigrationReport, error) {
	report := &MigrationReport{
		Status:       MigrationSkipped,
		LegacyDir:    legacy,
		CanonicalDir: canonical,
	}

	if _, err := os.Stat(legacy); err != nil {
		if os.IsNotExist(err) {
			report.Reason = "no legacy data directory"
			return report, nil
		}
		return nil, fmt.Errorf("stat legacy directory %s: %w", legacy, err)
	}
	if _, err := os.Stat(canonical); err == nil && !opts.Force {
		report.Reason = "canonical data directory already exists"
		return report, nil
	}
	lockPath := filepath.Join(legacy, migrationLockName)
	if _, err := os.Stat(lockPath); err == nil && !opts.Force {
		report.Reason = "a previous migration left a lock file; re-run with --force"
		return report, nil
	}

	plan, err := planMigration(legacy)
	if err != nil {
		return nil, err
	}
	report.Files = plan

	if opts.DryRun {
		report.Status = MigrationDryRun
		for i := range report.Files {
			report.Files[i].Status = "planned"
		}
		return report, nil
	}

	if err := writeMigrationLock(lockPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(canonical, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", canonical, err)
	}

	for i := range report.Files {
		entry := &report.Files[i]
		src := filepath.Join(legacy, entry.Path)
		dst := filepath.Join(canonical, entry.Path)
		if _, err := os.Stat(dst); err == nil {
			if !opts.Force {
				entry.Status = "exists"
				report.SkippedFiles++
				continue
			}
			entry.Status = "overwritten"
		} else {
			entry.Status = "copied"
		}
		if err := copyFile(src, dst); err != nil {
			return nil, err
		}
		report.CopiedFiles++
		report.CopiedBytes += entry.Bytes
	}

	report.Status = MigrationCompleted
	report.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	if err := writeMigrationReport(canonical, report); err != nil {
		return nil, err
	}
	return report, nil
}

// planMigration walks the legacy directory and lists every regular file to
// copy, relative to its root. The migration lock and a stale worker pid file
// are excluded: carrying the pid over would make the new worker think another
// instance already runs.
func planMigration(legacy string) ([]MigrationFile, error) {
	var plan []MigrationFile
	err := filepath.WalkDir(legacy, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(legacy, path)
		if err != nil {
			return err
		}
		if rel == migrationLockName || rel == pidFileName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		plan = append(plan, MigrationFile{Path: rel, Bytes: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan legacy directory %s: %w", legacy, err)
	}
	return plan, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: paths derived from the data directory walk
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm()) //nolint:gosec // G304: see above
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	return nil
}

func writeMigrationLock(path string) error {
	payload, _ := json.Marshal(map[string]any{
		"pid":       os.Getpid(),
		"startedAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err := os.WriteFile(path, payload, 0o644); err != nil { //nolint:gosec // G306: lock marker is not sensitive
		return fmt.Errorf("write migration lock %s: %w", path, err)
	}
	return nil
}

func writeMigrationReport(canonical string, report *MigrationReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal migration report: %w", err)
	}
	path := filepath.Join(canonical, migrationReportName)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: report is informational
		return fmt.Errorf("write migration report %s: %w", path, err)
	}
	return nil
}
