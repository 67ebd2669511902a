package httpapi

import (
	"net/http"
	"strconv"

	"econlab.org/internal/econ"
)

type recordIndicatorRequest struct {
	Name   string  `json:"name"`
	Period string  `json:"period"`
	Value  float64 `json:"value"`
}

func (a *API) handleListIndicators(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("code")
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	indicators, err := a.econ.ListIndicators(r.Context(), country, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if indicators == nil {
		indicators = []econ.Indicator{}
	}
	respondData(w, http.StatusOK, map[string]any{
		"country":    country,
		"indicators": indicators,
	})
}

func (a *API) handleRecordIndicator(w http.ResponseWriter, r *http.Request) {
	country := r.PathValue("code")
	var req recordIndicatorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ind, err := a.econ.RecordIndicator(r.Context(), econ.Indicator{
		Country: country,
		Name:    req.Name,
		Period:  req.Period,
		Value:   req.Value,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondData(w, http.StatusCreated, ind)
}
