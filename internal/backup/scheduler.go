package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	namePrefix      = "backup_"
	timestampLayout = "20060102_150405"
)

// Encryptor seals a file into a sibling encrypted file and returns its path.
type Encryptor interface {
	EncryptFile(path string) (string, error)
}

type Config struct {
	// SourcePath is the on-disk file of the persistent store to snapshot.
	SourcePath string
	// BackupDir receives the compressed snapshot archives.
	BackupDir string
	// SnapshotInterval is the period between snapshots (default 12h).
	SnapshotInterval time.Duration
	// SweepInterval is the period between retention sweeps (default 24h).
	SweepInterval time.Duration
	// RetentionDays is the maximum snapshot age before deletion (default 15).
	RetentionDays int
}

// Scheduler periodically snapshots the store file into timestamped encrypted
// archives and prunes the ones that outlive the retention window. It only
// touches the storage layer's on-disk representation and shares no locks with
// the request path.
type Scheduler struct {
	cfg       Config
	encryptor Encryptor
	logger    *zap.Logger
	now       func() time.Time
}

func NewScheduler(cfg Config, encryptor Encryptor, logger *zap.Logger) *Scheduler {
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 12 * time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 24 * time.Hour
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 15
	}
	return &Scheduler{
		cfg:       cfg,
		encryptor: encryptor,
		logger:    logger,
		now:       time.Now,
	}
}

// Run drives the snapshot and retention tickers until ctx is cancelled. Task
// failures are logged and the task waits for its next scheduled run; they are
// never fatal.
func (s *Scheduler) Run(ctx context.Context) {
	snapshotTicker := time.NewTicker(s.cfg.SnapshotInterval)
	defer snapshotTicker.Stop()
	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	s.logger.Info("Backup scheduler started",
		zap.Duration("snapshot_interval", s.cfg.SnapshotInterval),
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Int("retention_days", s.cfg.RetentionDays))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Backup scheduler stopped")
			return
		case <-snapshotTicker.C:
			if _, err := s.Snapshot(); err != nil {
				s.logger.Error("Backup creation failed", zap.Error(err))
			}
		case <-sweepTicker.C:
			if err := s.Sweep(); err != nil {
				s.logger.Error("Backup cleanup failed", zap.Error(err))
			}
		}
	}
}

// Snapshot copies the store file into the backup directory, compresses the
// copy into a zip archive, encrypts the archive and removes the plaintext
// intermediates. It returns the path of the final archive.
func (s *Scheduler) Snapshot() (string, error) {
	if err := os.MkdirAll(s.cfg.BackupDir, 0o700); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}

	timestamp := s.now().UTC().Format(timestampLayout)
	rawPath := filepath.Join(s.cfg.BackupDir, namePrefix+timestamp+".db")

	if err := copyFile(s.cfg.SourcePath, rawPath); err != nil {
		return "", fmt.Errorf("copying store file: %w", err)
	}

	zipPath := filepath.Join(s.cfg.BackupDir, namePrefix+timestamp+".zip")
	if err := compressFile(rawPath, zipPath); err != nil {
		os.Remove(rawPath)
		return "", fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := os.Remove(rawPath); err != nil {
		s.logger.Warn("Failed to remove uncompressed snapshot",
			zap.Error(err), zap.String("path", rawPath))
	}

	encryptedPath, err := s.encryptor.EncryptFile(zipPath)
	if err != nil {
		return "", fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := os.Remove(zipPath); err != nil {
		s.logger.Warn("Failed to remove plaintext archive",
			zap.Error(err), zap.String("path", zipPath))
	}

	s.logger.Info("Backup created", zap.String("path", encryptedPath))
	return encryptedPath, nil
}

// Sweep deletes snapshot archives older than the retention window, matching
// on the backup_<YYYYMMDD_HHMMSS> naming pattern. The most recent snapshot is
// always kept regardless of age.
func (s *Scheduler) Sweep() error {
	entries, err := os.ReadDir(s.cfg.BackupDir)
	if err != nil {
		return fmt.Errorf("reading backup directory: %w", err)
	}

	type snapshot struct {
		path    string
		created time.Time
	}
	var snapshots []snapshot
	newest := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		created, ok := parseTimestamp(entry.Name())
		if !ok {
			continue
		}
		snapshots = append(snapshots, snapshot{
			path:    filepath.Join(s.cfg.BackupDir, entry.Name()),
			created: created,
		})
		if newest == -1 || created.After(snapshots[newest].created) {
			newest = len(snapshots) - 1
		}
	}

	cutoff := s.now().UTC().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
	for i, snap := range snapshots {
		if i == newest {
			continue
		}
		if snap.created.Before(cutoff) {
			if err := os.Remove(snap.path); err != nil {
				s.logger.Error("Failed to delete expired backup",
					zap.Error(err), zap.String("path", snap.path))
				continue
			}
			s.logger.Info("Deleted expired backup", zap.String("path", snap.path))
		}
	}
	return nil
}

// parseTimestamp extracts the creation time embedded in a snapshot name.
func parseTimestamp(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, namePrefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(name, namePrefix)
	if len(rest) < len(timestampLayout) {
		return time.Time{}, false
	}
	created, err := time.Parse(timestampLayout, rest[:len(timestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return created, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func compressFile(src, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.Create(filepath.Base(src))
	if err != nil {
		zw.Close()
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		zw.Close()
		return err
	}
	defer in.Close()

	if _, err := io.Copy(w, in); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
