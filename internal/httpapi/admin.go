package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"
	"time"

	"taskline/backend/internal/entitlement"
	"taskline/backend/internal/model"
	"taskline/backend/internal/store"
)

var scheduleRe = regexp.MustCompile(`^\d{2}:\d{2}$`)

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	users, err := s.store.ListUsers(r.Context(), 400)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createTaskRequest struct {
	Name          string `json:"name"`
	ScriptKey     string `json:"script_key"`
	ScheduleValue string `json:"schedule_value"` // "HH:MM"
	PCName        string `json:"pc_name"`
	PlanTag       string `json:"plan_tag"`
	ExpiresDate   string `json:"expires_date"` // "YYYY-MM-DD", end of day JST
	Notes         string `json:"notes"`
}

func (s *Server) handleAdminUserTasks(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.PathValue("id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id_required", "user ID is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if _, err := s.store.GetUser(r.Context(), userID); err != nil {
			writeStoreError(w, err)
			return
		}
		tasks, err := s.store.ListTasks(r.Context(), store.TaskFilter{OwnerID: userID})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})

	case http.MethodPost:
		var req createTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid json")
			return
		}
		if !scheduleRe.MatchString(strings.TrimSpace(req.ScheduleValue)) {
			writeError(w, http.StatusBadRequest, "invalid_schedule", "schedule_value must be HH:MM")
			return
		}

		planTag := model.PlanTag(strings.TrimSpace(req.PlanTag))
		if planTag == "" {
			planTag = model.PlanTagFree
		}
		if planTag != model.PlanTagFree && planTag != model.PlanTagPaid {
			writeError(w, http.StatusBadRequest, "invalid_plan_tag", "plan_tag must be free or paid")
			return
		}

		var expiresAt *time.Time
		if d := strings.TrimSpace(req.ExpiresDate); d != "" {
			parsed, err := time.ParseInLocation("2006-01-02", d, entitlement.JST)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_expires_date", "expires_date must be YYYY-MM-DD")
				return
			}
			// End of the civil day, matching how paid plans expire.
			eod := parsed.Add(24*time.Hour - time.Second)
			expiresAt = &eod
		}

		task, err := s.store.CreateTask(r.Context(), model.Task{
			OwnerID:       userID,
			Name:          strings.TrimSpace(req.Name),
			ScriptKey:     strings.TrimSpace(req.ScriptKey),
			ScheduleValue: strings.TrimSpace(req.ScheduleValue),
			PCName:        strings.TrimSpace(req.PCName),
			Enabled:       true,
			Notes:         strings.TrimSpace(req.Notes),
			PlanTag:       planTag,
			ExpiresAt:     expiresAt,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"task": task})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleAdminTaskToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	taskID := strings.TrimSpace(r.PathValue("id"))
	task, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	updated, err := s.store.SetTaskEnabled(r.Context(), taskID, !task.Enabled)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": updated})
}

func (s *Server) handleAdminTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(r.PathValue("id"))

	switch r.Method {
	case http.MethodGet:
		task, err := s.store.GetTask(r.Context(), taskID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"task": task})

	case http.MethodDelete:
		if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": taskID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleAdminRerunList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	q := r.URL.Query()
	f := store.RerunFilter{
		Active: q.Get("filter") == "active",
		Status: model.RerunStatus(strings.TrimSpace(q.Get("status"))),
		PCName: strings.TrimSpace(q.Get("pc_name")),
	}

	reruns, err := s.queue.List(r.Context(), f)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": reruns})
}

func (s *Server) handleAdminRerunCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	canceled, err := s.queue.Cancel(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": canceled})
}

func (s *Server) handleAdminRerun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	switch r.Method {
	case http.MethodGet:
		req, err := s.queue.Get(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request": req})

	case http.MethodDelete:
		if err := s.queue.Delete(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
