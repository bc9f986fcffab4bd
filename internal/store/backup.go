package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/quantsim/sim-exchange/internal/metrics"
)

const backupStampLayout = "20060102_150405"

// ErrNoDatabase is returned when the database file to back up is missing.
var ErrNoDatabase = errors.New("store: database file not found")

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	TakenAt time.Time `json:"taken_at"`
}

// BackupConfig configures Backups.
type BackupConfig struct {
	Dir           string
	RetentionDays int  // applied after every backup when positive
	Auto          bool // back up once per day at startup and every Interval
	Interval      time.Duration
}

// Backups manages timestamped copies of the SQLite database file. It is the
// only writer of files under Dir.
type Backups struct {
	dbPath string
	db     *gorm.DB // optional; when set, backups use VACUUM INTO
	cfg    BackupConfig
	log    *slog.Logger
	now    func() time.Time
}

// NewBackups creates a manager for the database file at dbPath.
func NewBackups(dbPath string, cfg BackupConfig, logger *slog.Logger) *Backups {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &Backups{
		dbPath: dbPath,
		cfg:    cfg,
		log:    logger.With("component", "backups"),
		now:    time.Now,
	}
}

// NewStoreBackups creates a manager bound to an open SQLStore, taking
// consistent copies through the live connection.
func NewStoreBackups(s *SQLStore, cfg BackupConfig, logger *slog.Logger) *Backups {
	b := NewBackups(s.Path(), cfg, logger)
	b.db = s.db
	return b
}

// Dir is the backup directory.
func (b *Backups) Dir() string { return b.cfg.Dir }

// Backup writes <dir>/<stem>_YYYYMMDD_HHMMSS.db, adding _n when that name
// is taken, then applies retention. Failures are returned and counted; they
// never affect the live database.
func (b *Backups) Backup(ctx context.Context) (string, error) {
	path, err := b.backup(ctx)
	if err != nil {
		b.record("error")
		b.log.Error("backup failed", "db", b.dbPath, "err", err)
		return "", err
	}
	b.record("ok")

	if fi, statErr := os.Stat(path); statErr == nil {
		b.log.Info("database backed up", "path", path, "size_kb", fi.Size()/1024)
	}

	if b.cfg.RetentionDays > 0 {
		if _, err := b.Cleanup(b.cfg.RetentionDays); err != nil {
			b.log.Warn("backup cleanup incomplete", "err", err)
		}
	}
	return path, nil
}

func (b *Backups) backup(ctx context.Context) (string, error) {
	if _, err := os.Stat(b.dbPath); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoDatabase, b.dbPath)
	}
	if err := os.MkdirAll(b.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	path := b.nextName()
	if b.db != nil {
		if err := b.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
			return "", fmt.Errorf("vacuum into %s: %w", path, err)
		}
		return path, nil
	}
	if err := copyFile(b.dbPath, path); err != nil {
		return "", err
	}
	return path, nil
}

func (b *Backups) nextName() string {
	base := fmt.Sprintf("%s_%s", b.stem(), b.now().Format(backupStampLayout))
	path := filepath.Join(b.cfg.Dir, base+".db")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}
		path = filepath.Join(b.cfg.Dir, fmt.Sprintf("%s_%d.db", base, n))
	}
}

func (b *Backups) stem() string {
	return strings.TrimSuffix(filepath.Base(b.dbPath), filepath.Ext(b.dbPath))
}

// List returns the backups in Dir, newest first. Files whose names carry no
// timestamp are ignored.
func (b *Backups) List() ([]BackupInfo, error) {
	entries, err := os.ReadDir(b.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return []BackupInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	backups := []BackupInfo{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		taken, ok := parseBackupTime(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Name:    e.Name(),
			Path:    filepath.Join(b.cfg.Dir, e.Name()),
			Size:    info.Size(),
			TakenAt: taken,
		})
	}
	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].TakenAt.Equal(backups[j].TakenAt) {
			return backups[i].TakenAt.After(backups[j].TakenAt)
		}
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// Cleanup deletes backups older than days and reports how many were
// removed. Zero deletes every backup.
func (b *Backups) Cleanup(days int) (int, error) {
	backups, err := b.List()
	if err != nil {
		return 0, err
	}
	cutoff := b.now().AddDate(0, 0, -days)

	removed := 0
	var errs error
	for _, bk := range backups {
		if days > 0 && !bk.TakenAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(bk.Path); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		removed++
		b.log.Debug("removed old backup", "name", bk.Name)
	}
	if removed > 0 {
		b.log.Info("cleaned up old backups", "removed", removed)
	}
	return removed, errs
}

// Restore copies backupPath over the database file, first saving the
// current file as <stem>_before_restore.db next to it. The store must be
// closed while restoring.
func (b *Backups) Restore(backupPath string) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup %s: %w", backupPath, err)
	}
	if _, err := os.Stat(b.dbPath); err == nil {
		emergency := filepath.Join(filepath.Dir(b.dbPath), b.stem()+"_before_restore.db")
		if err := copyFile(b.dbPath, emergency); err != nil {
			return fmt.Errorf("emergency copy: %w", err)
		}
		b.log.Info("created emergency backup", "path", emergency)
	}
	if err := copyFile(backupPath, b.dbPath); err != nil {
		return fmt.Errorf("restore %s: %w", backupPath, err)
	}
	b.log.Info("database restored", "from", backupPath)
	return nil
}

// Run performs the startup backup when none was taken today, then one per
// Interval until ctx is done. It returns immediately in manual mode.
func (b *Backups) Run(ctx context.Context) error {
	if !b.cfg.Auto {
		return nil
	}
	if !b.backedUpToday() {
		b.log.Info("performing daily auto-backup")
		if _, err := b.Backup(ctx); err != nil {
			b.log.Warn("startup backup skipped; retrying on the next interval")
		}
	}

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := b.Backup(ctx); err != nil {
				continue
			}
		}
	}
}

func (b *Backups) backedUpToday() bool {
	backups, err := b.List()
	if err != nil || len(backups) == 0 {
		return false
	}
	y1, m1, d1 := backups[0].TakenAt.Date()
	y2, m2, d2 := b.now().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (b *Backups) record(result string) {
	metrics.BackupsTotal.WithLabelValues(result).Inc()
}

// parseBackupTime reads the YYYYMMDD_HHMMSS stamp from a backup name,
// tolerating a trailing _n collision suffix.
func parseBackupTime(name string) (time.Time, bool) {
	parts := strings.Split(strings.TrimSuffix(name, ".db"), "_")
	for i := len(parts) - 2; i >= 0 && i >= len(parts)-3; i-- {
		t, err := time.ParseInLocation(backupStampLayout, parts[i]+"_"+parts[i+1], time.Local)
		if err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, out.Close()) }()

	_, err = io.Copy(out, in)
	return err
}
