// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package introspection

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// PathPrefix is the URL prefix variables are served under.
const PathPrefix = "/debug/vars"

// Handler serves the registry under PathPrefix. Mount it with
// mux.Handle(PathPrefix+"/", h) and mux.Handle(PathPrefix, h).
func Handler(registry *Registry) http.Handler {
	return &handler{registry: registry}
}

type handler struct {
	registry *Registry
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "only GET is allowed")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, PathPrefix), "/")
	switch path {
	case "":
		paths := h.registry.Paths()
		writeJSON(w, map[string]any{"paths": paths, "count": len(paths)})

	case "all":
		all, err := h.registry.All()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, all)

	default:
		value, err := h.registry.Get(path)
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		value, err = ExtractField(value, r.URL.Query().Get("field"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, value)
	}
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errchkjson // nowhere to report a failure while reporting a failure
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
