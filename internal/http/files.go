package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"tutorias-backend-go/internal/models"
	"tutorias-backend-go/internal/services"

	"github.com/go-chi/chi/v5"
)

type FileService interface {
	Upload(ctx context.Context, in services.FileInput) (models.File, error)
	Store(ctx context.Context, ownerID int64, filename, contentType string, body io.Reader, sharedWith int64) (models.File, error)
	Get(ctx context.Context, id int64) (models.File, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.File, error)
	Open(ctx context.Context, id, actorID int64) (models.File, *os.File, error)
}

type FilesAPI struct {
	Files          FileService
	MaxUploadBytes int64
	Health         HealthFunc
}

type FileMetadataRequest struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	Type   string  `json:"type"`
	Size   int64   `json:"size"`
	SHA256 *string `json:"sha256"`
}

type FileList struct {
	Items []models.File `json:"items"`
}

func (a *FilesAPI) Router() http.Handler {
	r := newRouter(a.Health)
	r.Route("/files", func(files chi.Router) {
		files.Use(WithActor)
		files.Post("/", a.Upload)
		files.Post("/metadata", a.RecordMetadata)
		files.Get("/mine", a.Mine)
		files.Get("/{id}", a.Get)
		files.Get("/{id}/content", a.Content)
	})
	return r
}

func (a *FilesAPI) Upload(w http.ResponseWriter, r *http.Request) {
	limit := a.MaxUploadBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteKind(w, services.KindBadRequest, "File too large")
			return
		}
		WriteKind(w, services.KindBadRequest, "Invalid multipart payload")
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteKind(w, services.KindBadRequest, "Missing file")
		return
	}
	defer file.Close()

	var sharedWith int64
	if raw := r.FormValue("sharedWith"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			WriteKind(w, services.KindBadRequest, "Invalid sharedWith")
			return
		}
		sharedWith = parsed
	}
	contentType := header.Header.Get("Content-Type")
	stored, err := a.Files.Store(r.Context(), CurrentActor(r).ID, header.Filename, contentType, file, sharedWith)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, stored)
}

func (a *FilesAPI) RecordMetadata(w http.ResponseWriter, r *http.Request) {
	var req FileMetadataRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	file, err := a.Files.Upload(r.Context(), services.FileInput{
		OwnerID: CurrentActor(r).ID,
		Name:    req.Name,
		Path:    req.Path,
		Type:    req.Type,
		Size:    req.Size,
		SHA256:  req.SHA256,
	})
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, file)
}

func (a *FilesAPI) Mine(w http.ResponseWriter, r *http.Request) {
	items, err := a.Files.ListByOwner(r.Context(), CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, FileList{Items: items})
}

func (a *FilesAPI) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	file, err := a.Files.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	if file.OwnerID != CurrentActor(r).ID {
		WriteKind(w, services.KindForbidden, "file belongs to another user")
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

func (a *FilesAPI) Content(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	file, content, err := a.Files.Open(r.Context(), id, CurrentActor(r).ID)
	if err != nil {
		WriteServiceError(w, r, err)
		return
	}
	defer content.Close()
	w.Header().Set("Content-Type", file.Type)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(file.Name))
	http.ServeContent(w, r, file.Name, file.CreatedAt, content)
}
