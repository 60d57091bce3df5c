package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nyakairu/prosa/internal/process"
	"github.com/nyakairu/prosa/model"
)

func handleDefinitionCreate(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in process.DefinitionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		def, err := svc.CreateDefinition(r.Context(), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, def)
	}
}

func handleDefinitionGet(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		def, err := svc.GetDefinition(r.Context(), chi.URLParam(r, "definitionID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}

func handleDefinitionUpdate(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in process.DefinitionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		def, err := svc.UpdateDefinition(r.Context(), chi.URLParam(r, "definitionID"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, def)
	}
}

func handleDefinitionDelete(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.DeleteDefinition(r.Context(), chi.URLParam(r, "definitionID")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDefinitionList(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := model.Page{
			Number: queryInt(r, "page", 1),
			Size:   queryInt(r, "page_size", 20),
		}

		result, err := svc.ListDefinitions(r.Context(), r.URL.Query().Get("q"), page)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}

func handleVersionCreate(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in process.VersionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ver, err := svc.CreateVersion(r.Context(), chi.URLParam(r, "definitionID"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ver)
	}
}

func handleVersionGet(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ver, err := svc.GetVersion(r.Context(),
			chi.URLParam(r, "definitionID"), chi.URLParam(r, "versionID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ver)
	}
}

func handleVersionList(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		versions, err := svc.ListVersions(r.Context(), chi.URLParam(r, "definitionID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": versions})
	}
}

func handleVersionUpdate(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in process.VersionInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		ver, err := svc.UpdateVersion(r.Context(),
			chi.URLParam(r, "definitionID"), chi.URLParam(r, "versionID"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ver)
	}
}

func handleVersionDelete(svc *process.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.DeleteVersion(r.Context(),
			chi.URLParam(r, "definitionID"), chi.URLParam(r, "versionID"))
		if err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
