package httpadapter

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/google/uuid"

	"github.com/kirillkom/document-verifier/internal/core/domain"
)

func (rt *Router) createUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFromContext(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, rt.maxUploadBytes+multipartOverhead)
	part, err := filePart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer part.Close()

	// One byte past the limit is enough for validation to reject the file.
	key := uuid.NewString()
	size, err := rt.storage.Save(ctx, key, io.LimitReader(part, rt.maxUploadBytes+1))
	if err != nil {
		rt.logger.Error("upload_spool_failed", "request_id", requestIDFromContext(ctx), "error", err.Error())
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "The selected file is too large.")
			return
		}
		writeError(w, http.StatusInternalServerError, domain.GenericServerMessage)
		return
	}

	file, err := rt.inspector.Inspect(ctx, rt.storage.Path(key), part.FileName())
	if err != nil {
		rt.discard(key)
		writeDomainError(w, domain.NewError(domain.ErrValidation, "inspect upload", "The selected file could not be read.", err))
		return
	}
	file.Size = size
	file.StorageKey = key

	job, err := rt.sessions.SelectAndStart(session, file, func(job domain.UploadJob, runErr error) {
		rt.discard(key)
		attrs := []any{"user_id", session.UserID, "phase", job.Phase, "analysis_id", job.AnalysisID}
		if runErr != nil {
			attrs = append(attrs, "error", runErr.Error())
		}
		rt.logger.Info("upload_run_finished", attrs...)
	})
	if err != nil {
		rt.discard(key)
		rt.logger.Warn("upload_rejected", "request_id", requestIDFromContext(ctx), "user_id", session.UserID, "error", err.Error())
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func filePart(r *http.Request) (*multipart.Part, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := reader.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" && part.FileName() != "" {
			return part, nil
		}
		_ = part.Close()
	}
}

func (rt *Router) discard(key string) {
	if err := rt.storage.Delete(context.Background(), key); err != nil {
		rt.logger.Warn("upload_spool_cleanup_failed", "key", key, "error", err.Error())
	}
}

func (rt *Router) getCurrentUpload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.sessions.Snapshot(sessionFromContext(r.Context())))
}

func (rt *Router) removeCurrentUpload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.sessions.Remove(sessionFromContext(r.Context())))
}

func (rt *Router) resetCurrentUpload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.sessions.Reset(sessionFromContext(r.Context())))
}
