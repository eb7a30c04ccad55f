package attachments

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/maubry/mailtriage/pkg/models"
)

// MaxAttachmentSize is the hard cap on a single attachment.
const MaxAttachmentSize = 50 * 1024 * 1024

// ValidationError marks an expected, recoverable rejection: the attachment
// is skipped, the owning message proceeds.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "attachment validation failed: " + e.Reason
}

// IsValidation reports whether err is an attachment validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// blockedExtensions are executable/script types never written to disk.
var blockedExtensions = map[string]bool{
	".exe": true, ".scr": true, ".bat": true, ".cmd": true, ".com": true,
	".pif": true, ".vbs": true, ".js": true, ".jar": true, ".app": true,
	".deb": true, ".rpm": true, ".dmg": true, ".pkg": true, ".msi": true,
}

// expectedExtensions is a best-effort MIME/extension consistency table;
// mismatches are logged, never blocked.
var expectedExtensions = map[string][]string{
	"application/pdf": {".pdf"},
	"image/jpeg":      {".jpg", ".jpeg"},
	"image/png":       {".png"},
	"text/plain":      {".txt"},
	"application/msword": {".doc"},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {".docx"},
}

var (
	unsafeEmailChars = regexp.MustCompile(`[^\w\-.]`)
	unsafeFileChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// Store persists attachment bytes under a deterministic
// sender/date/message layout with atomic write-then-rename.
type Store struct {
	baseDir string
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an attachment store rooted at baseDir.
func New(baseDir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}
	return &Store{
		baseDir: baseDir,
		logger:  logger.With("component", "attachment_store"),
		now:     time.Now,
	}, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// Save validates and persists one attachment, returning its reference.
// Validation failures come back as *ValidationError; anything else is an
// environment problem the caller may want to escalate.
func (s *Store) Save(data []byte, filename, senderEmail, messageID, attachmentID, mimeType string, declaredSize int64) (models.AttachmentRef, error) {
	var ref models.AttachmentRef

	if declaredSize <= 0 {
		return ref, &ValidationError{Reason: fmt.Sprintf("invalid size: %d bytes", declaredSize)}
	}
	if declaredSize > MaxAttachmentSize {
		return ref, &ValidationError{Reason: fmt.Sprintf("too large: %.1fMB (max 50MB)", float64(declaredSize)/1024/1024)}
	}
	if filename == "" || len(filename) > 255 {
		return ref, &ValidationError{Reason: fmt.Sprintf("invalid filename: %q", filename)}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if blockedExtensions[ext] {
		s.logger.Warn("blocked attachment extension", "filename", filename, "ext", ext)
		return ref, &ValidationError{Reason: "file type not allowed: " + ext}
	}

	if expected, ok := expectedExtensions[mimeType]; ok {
		match := false
		for _, e := range expected {
			if e == ext {
				match = true
				break
			}
		}
		if !match {
			// Defense in depth only, not a hard gate.
			s.logger.Warn("mime type mismatch", "mime_type", mimeType, "ext", ext, "filename", filename)
		}
	}

	dir := s.messageDir(senderEmail, messageID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ref, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	// Free space check is best effort: an unreliable check must not block.
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		s.logger.Warn("could not check disk space", "error", err)
	} else {
		free := int64(stat.Bavail) * int64(stat.Bsize)
		if free < declaredSize*2 {
			return ref, fmt.Errorf("insufficient disk space: need %dMB free, have %dMB",
				declaredSize*2/1024/1024, free/1024/1024)
		}
	}

	safeName := safeFilename(filename, attachmentID)
	finalPath := filepath.Join(dir, safeName)
	tempPath := finalPath + ".tmp"

	if err := s.writeVerified(tempPath, finalPath, data, declaredSize); err != nil {
		return ref, err
	}

	relPath, err := filepath.Rel(s.baseDir, finalPath)
	if err != nil {
		return ref, fmt.Errorf("failed to compute relative path: %w", err)
	}

	s.logger.Info("saved attachment", "filename", filename, "size", declaredSize, "path", relPath)

	return models.AttachmentRef{
		Filename:     filename,
		SafeFilename: safeName,
		StoragePath:  relPath,
		MimeType:     mimeType,
		Size:         declaredSize,
		AttachmentID: attachmentID,
	}, nil
}

// writeVerified writes to a temp sibling, verifies the written byte count
// and a 1KB read-back, then renames atomically into place. The temp file is
// removed on any verification failure.
func (s *Store) writeVerified(tempPath, finalPath string, data []byte, declaredSize int64) error {
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}

	cleanup := func() {
		if err := os.Remove(tempPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove temp file", "path", tempPath, "error", err)
		}
	}

	info, err := os.Stat(tempPath)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to stat written file: %w", err)
	}
	if info.Size() != declaredSize {
		cleanup()
		return fmt.Errorf("write verification failed: expected %d bytes, got %d", declaredSize, info.Size())
	}

	f, err := os.Open(tempPath)
	if err != nil {
		cleanup()
		return fmt.Errorf("read-back check failed: %w", err)
	}
	buf := make([]byte, 1024)
	n, err := f.Read(buf)
	f.Close()
	if err != nil && err != io.EOF {
		cleanup()
		return fmt.Errorf("read-back check failed: %w", err)
	}
	if n == 0 && declaredSize > 0 {
		cleanup()
		return fmt.Errorf("read-back check failed: saved file appears empty")
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		cleanup()
		return fmt.Errorf("failed to move attachment into place: %w", err)
	}
	return nil
}

// Path returns the absolute path for a stored relative path.
func (s *Store) Path(relPath string) string {
	return filepath.Join(s.baseDir, relPath)
}

// Exists reports whether a stored attachment is still on disk.
func (s *Store) Exists(relPath string) bool {
	_, err := os.Stat(s.Path(relPath))
	return err == nil
}

// messageDir builds the deterministic directory for a message's attachments:
// {sanitized_sender}/{yyyy-mm}/{first 12 chars of message id}.
func (s *Store) messageDir(senderEmail, messageID string) string {
	cleanEmail := unsafeEmailChars.ReplaceAllString(strings.ToLower(senderEmail), "_")
	idPart := messageID
	if len(idPart) > 12 {
		idPart = idPart[:12]
	}
	return filepath.Join(s.baseDir, cleanEmail, s.now().Format("2006-01"), idPart)
}

// safeFilename keeps the human-readable name while suffixing part of the
// attachment id so distinct attachments sharing a name cannot collide.
func safeFilename(filename, attachmentID string) string {
	safe := unsafeFileChars.ReplaceAllString(filename, "_")
	idPart := attachmentID
	if len(idPart) > 8 {
		idPart = idPart[:8]
	}
	ext := filepath.Ext(safe)
	if ext != "" {
		name := strings.TrimSuffix(safe, ext)
		return fmt.Sprintf("%s_%s%s", name, idPart, ext)
	}
	return fmt.Sprintf("%s_%s", safe, idPart)
}

// StorageStats summarizes disk usage of the store.
type StorageStats struct {
	TotalFiles int
	TotalBytes int64
	FreeBytes  int64
}

// Stats walks the store and reports file counts and sizes.
func (s *Store) Stats() (StorageStats, error) {
	var stats StorageStats
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("could not stat path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalFiles++
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("failed to walk attachment store: %w", err)
	}

	var fsStat unix.Statfs_t
	if err := unix.Statfs(s.baseDir, &fsStat); err == nil {
		stats.FreeBytes = int64(fsStat.Bavail) * int64(fsStat.Bsize)
	}
	return stats, nil
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	RemovedFiles int
	FreedBytes   int64
}

// CleanupOlderThan removes attachment files older than age and prunes empty
// directories left behind.
func (s *Store) CleanupOlderThan(age time.Duration) (CleanupReport, error) {
	cutoff := s.now().Add(-age)
	var report CleanupReport

	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("could not remove old attachment", "path", path, "error", err)
				return nil
			}
			report.RemovedFiles++
			report.FreedBytes += info.Size()
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("failed to walk attachment store: %w", err)
	}

	s.pruneEmptyDirs(s.baseDir)
	s.logger.Info("attachment cleanup completed", "removed", report.RemovedFiles, "freed_bytes", report.FreedBytes)
	return report, nil
}

func (s *Store) pruneEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	// Deepest first so parents empty out as children are removed.
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(dirs[i])
		}
	}
}
