package api

import (
	"net/http"
	"strconv"
	"strings"

	apperrors "immo-alerts/internal/common/errors"
	"immo-alerts/internal/models"
	"immo-alerts/internal/search"
)

// handleSearch queries the listing index: q, location, type, minPrice, maxPrice, size.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		s.writeError(w, r, apperrors.NewNotFoundError("search index", "disabled"))
		return
	}
	p := r.URL.Query()
	q := search.Query{
		Text:     strings.TrimSpace(p.Get("q")),
		Location: strings.TrimSpace(p.Get("location")),
	}
	if t := strings.ToUpper(strings.TrimSpace(p.Get("type"))); t != "" {
		q.PropertyType = models.PropertyType(t)
		if !q.PropertyType.Valid() {
			s.writeError(w, r, apperrors.NewInvalidInputError("type must be HOUSE, APARTMENT or BOTH"))
			return
		}
	}

	var err error
	if q.MinPrice, err = floatParam(p.Get("minPrice")); err != nil {
		s.writeError(w, r, apperrors.NewInvalidInputError("minPrice: "+err.Error()))
		return
	}
	if q.MaxPrice, err = floatParam(p.Get("maxPrice")); err != nil {
		s.writeError(w, r, apperrors.NewInvalidInputError("maxPrice: "+err.Error()))
		return
	}
	if v := p.Get("size"); v != "" {
		if q.Size, err = strconv.Atoi(v); err != nil || q.Size < 0 {
			s.writeError(w, r, apperrors.NewInvalidInputError("size must be a positive integer"))
			return
		}
	}

	res, err := s.deps.Search.Search(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func floatParam(v string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, strconv.ErrRange
	}
	return f, nil
}
