package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"tutorias-backend-go/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type FileInput struct {
	OwnerID int64   `json:"ownerId"`
	Name    string  `json:"name"`
	Path    string  `json:"path"`
	Type    string  `json:"type"`
	Size    int64   `json:"size"`
	SHA256  *string `json:"sha256,omitempty"`
}

// FileStore keeps upload metadata in the files table and, for uploads that
// carry content, the bytes under Root.
type FileStore struct {
	DB                *sqlx.DB
	Root              string
	AllowedExtensions []string
	MaxBytes          int64
	Notifier          Notifier
}

func NewFileStore(db *sqlx.DB, root string, allowed []string, maxBytes int64, notifier Notifier) *FileStore {
	return &FileStore{
		DB:                db,
		Root:              root,
		AllowedExtensions: allowed,
		MaxBytes:          maxBytes,
		Notifier:          notifier,
	}
}

const fileColumns = `id, name, path, owner_id, type, size, sha256, created_at`

// Upload records metadata for an artifact. The storage path must be unused
// and the owner must exist.
func (s *FileStore) Upload(ctx context.Context, in FileInput) (models.File, error) {
	name := strings.TrimSpace(in.Name)
	storagePath := strings.TrimSpace(in.Path)
	if in.OwnerID <= 0 {
		return models.File{}, NewError(KindOwnerNotFound, "owner not found")
	}
	if name == "" || storagePath == "" {
		return models.File{}, ErrBadRequest("name and path are required")
	}
	if in.Size < 0 {
		return models.File{}, ErrBadRequest("size must not be negative")
	}
	fileType := strings.TrimSpace(in.Type)
	if fileType == "" {
		fileType = "application/octet-stream"
	}
	var file models.File
	err := s.DB.GetContext(ctx, &file, `
INSERT INTO files (name, path, owner_id, type, size, sha256)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING `+fileColumns,
		name, storagePath, in.OwnerID, fileType, in.Size, in.SHA256)
	if err != nil {
		return models.File{}, translatePgError(err)
	}
	return file, nil
}

func (s *FileStore) allowed(filename string) bool {
	if len(s.AllowedExtensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, candidate := range s.AllowedExtensions {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if !strings.HasPrefix(candidate, ".") {
			candidate = "." + candidate
		}
		if ext == candidate {
			return true
		}
	}
	return false
}

// Store writes body under Root/<owner>/ with a generated name, records it
// with Upload, and tells sharedWith about it when that is set.
func (s *FileStore) Store(ctx context.Context, ownerID int64, filename, contentType string, body io.Reader, sharedWith int64) (models.File, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return models.File{}, ErrBadRequest("file name is required")
	}
	if !s.allowed(filename) {
		return models.File{}, ErrBadRequest("file type not allowed; accepted: " + strings.Join(s.AllowedExtensions, ", "))
	}
	if ownerID <= 0 {
		return models.File{}, NewError(KindOwnerNotFound, "owner not found")
	}
	ownerDir := filepath.Join(s.Root, strconv.FormatInt(ownerID, 10))
	_, statErr := os.Stat(ownerDir)
	createdDir := os.IsNotExist(statErr)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return models.File{}, err
	}
	key := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	targetPath := filepath.Join(ownerDir, key)
	discard := func() {
		_ = os.Remove(targetPath)
		if createdDir {
			// only succeeds while the directory is still empty
			_ = os.Remove(ownerDir)
		}
	}

	out, err := os.Create(targetPath)
	if err != nil {
		discard()
		return models.File{}, err
	}
	reader := body
	if s.MaxBytes > 0 {
		reader = io.LimitReader(body, s.MaxBytes+1)
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hasher), reader)
	_ = out.Close()
	if err != nil {
		discard()
		return models.File{}, err
	}
	if size == 0 {
		discard()
		return models.File{}, ErrBadRequest("file is empty")
	}
	if s.MaxBytes > 0 && size > s.MaxBytes {
		discard()
		return models.File{}, ErrBadRequest(fmt.Sprintf("file exceeds %d bytes", s.MaxBytes))
	}
	sum := hex.EncodeToString(hasher.Sum(nil))

	file, err := s.Upload(ctx, FileInput{
		OwnerID: ownerID,
		Name:    filename,
		Path:    path.Join(strconv.FormatInt(ownerID, 10), key),
		Type:    contentType,
		Size:    size,
		SHA256:  &sum,
	})
	if err != nil {
		discard()
		return models.File{}, err
	}
	if sharedWith > 0 && sharedWith != ownerID {
		s.notifyShared(context.WithoutCancel(ctx), file, sharedWith)
	}
	return file, nil
}

func (s *FileStore) notifyShared(ctx context.Context, file models.File, recipient int64) {
	if s.Notifier == nil {
		return
	}
	_, err := s.Notifier.Enqueue(ctx, NotificationInput{
		RecipientID: recipient,
		Kind:        "file_shared",
		Message:     "New file uploaded: " + file.Name,
		Data: map[string]any{
			"fileId":  file.ID,
			"ownerId": file.OwnerID,
			"name":    file.Name,
		},
		DedupeKey: fmt.Sprintf("file:%d:shared:%d", file.ID, recipient),
	})
	if err != nil {
		log.Printf("notify file %d recipient %d: %v", file.ID, recipient, err)
	}
}

func (s *FileStore) Get(ctx context.Context, id int64) (models.File, error) {
	var file models.File
	err := s.DB.GetContext(ctx, &file, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.File{}, ErrNotFound("file not found")
	}
	return file, err
}

func (s *FileStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.File, error) {
	items := []models.File{}
	err := s.DB.SelectContext(ctx, &items, `
SELECT `+fileColumns+`
FROM files
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
`, ownerID)
	return items, err
}

// Open returns the stored content of a file its owner asks for. Paths are
// resolved inside Root whatever the recorded value looks like.
func (s *FileStore) Open(ctx context.Context, id, actorID int64) (models.File, *os.File, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return models.File{}, nil, err
	}
	if file.OwnerID != actorID {
		return models.File{}, nil, ErrForbidden("file belongs to another user")
	}
	content, err := os.Open(s.resolve(file.Path))
	if errors.Is(err, os.ErrNotExist) {
		return models.File{}, nil, ErrNotFound("file content not found")
	}
	if err != nil {
		return models.File{}, nil, err
	}
	return file, content, nil
}

func (s *FileStore) resolve(stored string) string {
	return filepath.Join(s.Root, filepath.FromSlash(path.Clean("/"+stored)))
}
