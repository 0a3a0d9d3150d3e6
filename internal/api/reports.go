package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/dharsanguruparan/ClockSheet/internal/apperror"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/signing"
)

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateReport(w, r)
	case http.MethodGet:
		list, err := s.deps.Jobs.List(r.Context())
		if err != nil {
			s.respondFailure(w, r, err)
			return
		}
		if list == nil {
			list = []model.ReportJob{}
		}
		respondJSON(w, http.StatusOK, list)
	default:
		respondError(w, http.StatusMethodNotAllowed, apperror.CodeValidation, "method not allowed")
	}
}

func (s *Server) handleReportRoute(w http.ResponseWriter, r *http.Request) {
	id, action := route(r.URL.Path, "/reports/")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	switch action {
	case "":
		s.handleReport(w, r, id)
	case "cancel":
		s.handleCancel(w, r, id)
	case "download":
		s.handleDownload(w, r, id)
	case "signed-url":
		s.handleSignedURL(w, r, id)
	case "archive-url":
		s.handleArchiveURL(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// decodeRequest accepts a JSON body or form fields.
func decodeRequest(r *http.Request) (model.ReportRequest, error) {
	var req model.ReportRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, apperror.Wrap(apperror.CodeValidation, "malformed JSON body", err)
		}
		return req, nil
	}
	if err := r.ParseForm(); err != nil {
		return req, apperror.Wrap(apperror.CodeValidation, "malformed form body", err)
	}
	req = model.ReportRequest{
		From:         r.FormValue("from"),
		To:           r.FormValue("to"),
		EmployeeID:   r.FormValue("employee_id"),
		OfficeID:     r.FormValue("office_id"),
		DepartmentID: r.FormValue("department_id"),
		ReportType:   model.ReportType(r.FormValue("report_type")),
		Format:       model.Format(r.FormValue("format")),
		Strategy:     r.FormValue("strategy"),
	}
	return req, nil
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeRequest(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Create(ctx, req)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if err := s.deps.Launcher.Launch(ctx, job.ID); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	status := job.Status
	if current, err := s.deps.Jobs.Status(ctx, job.ID); err == nil {
		status = current.Status
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     job.ID,
		"status": string(status),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		job, err := s.deps.Jobs.Status(r.Context(), id)
		if err != nil {
			s.respondFailure(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := s.deps.Jobs.Delete(r.Context(), id); err != nil {
			s.respondFailure(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	default:
		respondError(w, http.StatusMethodNotAllowed, apperror.CodeValidation, "method not allowed")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	cancelled, err := s.deps.Jobs.Cancel(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	job, err := s.deps.Jobs.Status(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"status":    job.Status,
		"cancelled": cancelled,
	})
}

// completedFile returns the stored file of a completed job, or writes the
// error response and returns nil.
func (s *Server) completedFile(w http.ResponseWriter, r *http.Request, id string) *model.ReportFile {
	job, err := s.deps.Jobs.Status(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return nil
	}
	if job.Status != model.StatusCompleted {
		respondError(w, http.StatusConflict, apperror.CodeNotFound, fmt.Sprintf("report is %s", job.Status))
		return nil
	}
	file, err := s.deps.Files.Get(id)
	if err != nil {
		s.respondFailure(w, r, err)
		return nil
	}
	return file
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if file := s.completedFile(w, r, id); file != nil {
		s.serveFile(w, r, file)
	}
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request, id string) {
	if !allow(w, r, http.MethodPost, http.MethodGet) {
		return
	}
	if s.completedFile(w, r, id) == nil {
		return
	}
	u, expires := s.deps.Signer.SignedURL("/download", id, s.now(), s.cfg.SignedURLTTL)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"url":     u,
		"expires": expires.Unix(),
	})
}

func (s *Server) handleSignedDownload(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	id := q.Get("report")
	switch err := s.deps.Signer.Verify(id, q.Get("expires"), q.Get("signature"), s.now()); {
	case errors.Is(err, signing.ErrExpired):
		respondError(w, http.StatusUnauthorized, apperror.CodeValidation, "url expired")
		return
	case err != nil:
		respondError(w, http.StatusUnauthorized, apperror.CodeValidation, "invalid signature")
		return
	}
	file, err := s.deps.Files.Get(id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	s.serveFile(w, r, file)
}

func (s *Server) handleArchiveURL(w http.ResponseWriter, r *http.Request, id string) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.deps.Archive == nil {
		respondError(w, http.StatusNotFound, apperror.CodeNotFound, "report archive is not configured")
		return
	}
	job, err := s.deps.Jobs.Status(r.Context(), id)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if job.Status != model.StatusCompleted || job.Filename == "" {
		respondError(w, http.StatusConflict, apperror.CodeNotFound, fmt.Sprintf("report is %s", job.Status))
		return
	}
	u, err := s.deps.Archive.PresignReport(r.Context(), job.Filename, s.cfg.SignedURLTTL)
	if err != nil {
		s.respondFailure(w, r, apperror.Wrap(apperror.CodeFile, "could not sign the archived report", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, file *model.ReportFile) {
	f, err := os.Open(file.Path)
	if err != nil {
		respondError(w, http.StatusNotFound, apperror.CodeNotFound, "report file unavailable")
		return
	}
	defer f.Close()
	name := strings.ReplaceAll(file.OriginalFilename, `"`, "")
	w.Header().Set("Content-Type", file.Format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, file.CreatedAt, f)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	req, err := decodeRequest(r)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		s.respondFailure(w, r, err)
		return
	}
	preview, err := s.deps.Preview.Preview(r.Context(), req)
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}
