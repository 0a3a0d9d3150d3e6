package api

import (
	"net/http"

	"github.com/dharsanguruparan/ClockSheet/internal/fetch"
	"github.com/dharsanguruparan/ClockSheet/internal/model"
	"github.com/dharsanguruparan/ClockSheet/internal/sesame"
)

// pickerPages bounds the filter picker listings.
const pickerPages = 20

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	files, err := s.deps.Files.List()
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	stats, err := s.deps.Files.Stats()
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if files == nil {
		files = []model.ReportFile{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"files": files, "stats": stats})
}

func (s *Server) handleActivityTypes(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	types, err := s.deps.Activities.List(r.Context())
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	if types == nil {
		types = []model.ActivityType{}
	}
	respondJSON(w, http.StatusOK, types)
}

func (s *Server) handleActivityTypeAction(w http.ResponseWriter, r *http.Request) {
	action, _ := route(r.URL.Path, "/activity-types/")
	var run func() (int, error)
	switch action {
	case "sync":
		run = func() (int, error) { return s.deps.Activities.Sync(r.Context()) }
	case "refresh":
		run = func() (int, error) { return s.deps.Activities.Refresh(r.Context()) }
	default:
		http.NotFound(w, r)
		return
	}
	if !allow(w, r, http.MethodPost) {
		return
	}
	n, err := run()
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"synced": n})
}

func (s *Server) handleSesame(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	resource, _ := route(r.URL.Path, "/sesame/")
	opts := fetch.Options{PageSize: 100, MaxPages: pickerPages, Logger: s.log}

	var (
		payload interface{}
		err     error
	)
	switch resource {
	case "info":
		payload, err = s.deps.Directory.TokenInfo(ctx)
	case "employees":
		var res *fetch.Result[model.Employee]
		res, err = fetch.Sequential(ctx, s.deps.Directory, sesame.Request{
			Resource: sesame.ResourceEmployees,
			Filters:  map[string]string{"officeId": r.URL.Query().Get("office_id"), "departmentId": r.URL.Query().Get("department_id")},
		}, sesame.DecodeEmployee, opts)
		if err == nil {
			payload = nonNil(res.Items)
		}
	case "offices", "departments":
		resourcePath := sesame.ResourceOffices
		if resource == "departments" {
			resourcePath = sesame.ResourceDepartments
		}
		var res *fetch.Result[model.Named]
		res, err = fetch.Sequential(ctx, s.deps.Directory, sesame.Request{Resource: resourcePath}, sesame.DecodeNamed, opts)
		if err == nil {
			payload = nonNil(res.Items)
		}
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, payload)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	action, _ := route(r.URL.Path, "/maintenance/")
	switch action {
	case "cleanup":
		if !allow(w, r, http.MethodPost) {
			return
		}
		rep, err := s.deps.Jobs.Cleanup(r.Context())
		if err != nil {
			s.respondFailure(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, rep)
	case "stats":
		if !allow(w, r, http.MethodGet) {
			return
		}
		jobStats, err := s.deps.Jobs.Stats(r.Context())
		if err != nil {
			s.respondFailure(w, r, err)
			return
		}
		fileStats, err := s.deps.Files.Stats()
		if err != nil {
			s.respondFailure(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobStats, "files": fileStats})
	default:
		http.NotFound(w, r)
	}
}
