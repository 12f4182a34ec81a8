// Package attachment stores uploaded file payloads in a local content-addressed
// spool. Metadata lives in the database; the spool holds only bytes, keyed by
// SHA-256 content hash, so identical uploads share one object.
package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/prism-chat/prism/internal/log"
)

// MaxFileSize bounds a single upload.
const MaxFileSize = 32 << 20 // 32 MiB

// Errors returned by the spool.
var (
	ErrTooLarge    = errors.New("attachment exceeds size limit")
	ErrNotFound    = errors.New("attachment payload not found")
	ErrInvalidHash = errors.New("invalid content hash")
)

// hashRe matches a lowercase hex SHA-256 digest.
var hashRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// SavedFile describes a payload after it has been spooled.
type SavedFile struct {
	Name        string
	ContentType string
	Hash        string
	Size        int64
}

// Spool is a content-addressed file store rooted at one directory. Writes
// serialize on a file lock so multiple processes can share the directory.
type Spool struct {
	dir        string
	lock       *flock.Flock
	extractors []TextExtractor
	logger     log.Logger
}

// NewSpool opens (creating if needed) a spool rooted at dir.
func NewSpool(dir string, logger log.Logger, extractors ...TextExtractor) (*Spool, error) {
	if err := os.MkdirAll(filepath.Join(dir, "objects"), 0o700); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}
	if len(extractors) == 0 {
		extractors = []TextExtractor{PlainText{}}
	}
	return &Spool{
		dir:        dir,
		lock:       flock.New(filepath.Join(dir, "spool.lock")),
		extractors: extractors,
		logger:     logger,
	}, nil
}

// Save spools the payload and returns its identity. The content type comes
// from the filename extension when known, else from content sniffing.
// Duplicate content is deduplicated by hash.
func (s *Spool) Save(ctx context.Context, name string, r io.Reader) (*SavedFile, error) {
	if _, err := s.lock.TryLockContext(ctx, lockRetryDelay); err != nil {
		return nil, fmt.Errorf("acquiring spool lock: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	tmp, err := os.CreateTemp(s.dir, "incoming-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // no-op after successful rename
	}()

	hasher := sha256.New()
	head := make([]byte, 512)
	headLen := 0

	limited := io.LimitReader(r, MaxFileSize+1)
	buf := make([]byte, 64*1024)
	var size int64
	for {
		n, readErr := limited.Read(buf)
		if n > 0 {
			if headLen < len(head) {
				headLen += copy(head[headLen:], buf[:n])
			}
			if _, err := tmp.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("writing payload: %w", err)
			}
			hasher.Write(buf[:n])
			size += int64(n)
			if size > MaxFileSize {
				return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("reading payload: %w", readErr)
		}
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	dest := s.objectPath(hash)
	if _, err := os.Stat(dest); err == nil {
		s.logger.Debug("attachment deduplicated", "hash", hash)
	} else {
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return nil, fmt.Errorf("creating object directory: %w", err)
		}
		if err := os.Rename(tmpName, dest); err != nil {
			return nil, fmt.Errorf("placing object: %w", err)
		}
	}

	return &SavedFile{
		Name:        filepath.Base(name),
		ContentType: detectContentType(name, head[:headLen]),
		Hash:        hash,
		Size:        size,
	}, nil
}

// Open returns the payload for a content hash.
func (s *Spool) Open(hash string) (io.ReadCloser, error) {
	if !hashRe.MatchString(hash) {
		return nil, ErrInvalidHash
	}
	f, err := os.Open(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening object: %w", err)
	}
	return f, nil
}

// ExtractText runs the first extractor accepting the content type over the
// payload. The second return is false when no extractor matched.
func (s *Spool) ExtractText(ctx context.Context, hash, contentType string) (string, bool, error) {
	for _, e := range s.extractors {
		if !e.CanExtract(contentType) {
			continue
		}
		rc, err := s.Open(hash)
		if err != nil {
			return "", true, err
		}
		defer rc.Close()
		text, err := e.Extract(ctx, rc)
		return text, true, err
	}
	return "", false, nil
}

func (s *Spool) objectPath(hash string) string {
	return filepath.Join(s.dir, "objects", hash[:2], hash)
}

// detectContentType prefers the filename extension and falls back to sniffing
// the payload head.
func detectContentType(name string, head []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return http.DetectContentType(head)
}

// lockRetryDelay is how often TryLockContext re-attempts the file lock.
const lockRetryDelay = 25 * time.Millisecond

// TextExtractor converts a payload into prompt-ready text.
type TextExtractor interface {
	// CanExtract reports whether the extractor handles the content type.
	CanExtract(contentType string) bool
	// Extract reads the payload and returns plain text.
	Extract(ctx context.Context, r io.Reader) (string, error)
}

// PlainText extracts text/* and JSON payloads verbatim, bounded in size.
type PlainText struct{}

// maxExtractedBytes bounds text pulled into a prompt from one attachment.
const maxExtractedBytes = 256 * 1024

func (PlainText) CanExtract(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || mt == "application/json"
}

func (PlainText) Extract(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxExtractedBytes))
	if err != nil {
		return "", fmt.Errorf("reading payload: %w", err)
	}
	return string(data), nil
}
