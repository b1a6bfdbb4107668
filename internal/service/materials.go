package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/daimoniac/cdpilot/internal/apiclient"
	"github.com/daimoniac/cdpilot/internal/errors"
	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/go-playground/validator/v10"
)

// DefaultPageSize is the number of images fetched per page
const DefaultPageSize = 20

// MaterialQuery selects a page of deployment candidates for one pipeline
type MaterialQuery struct {
	PipelineID int                 `validate:"required,gt=0"`
	Stage      material.Stage      `validate:"required,stage"`
	Offset     int                 `validate:"gte=0"`
	Size       int                 `validate:"gte=0,lte=500"`
	Search     string              `validate:"max=256"`
	FilterView material.FilterView `validate:"omitempty,oneof=ALL ELIGIBLE_RESOURCES"`

	// DisableDefaultSelection keeps every candidate unselected
	DisableDefaultSelection bool
}

// Validate checks the query
func (q MaterialQuery) Validate() error {
	return requestValidate.Struct(q)
}

func validateStage(fl validator.FieldLevel) bool {
	_, ok := material.ParseStage(fl.Field().String())
	return ok
}

func (q MaterialQuery) values() url.Values {
	size := q.Size
	if size == 0 {
		size = DefaultPageSize
	}
	v := url.Values{}
	v.Set("stage", string(q.Stage))
	v.Set("offset", strconv.Itoa(q.Offset))
	v.Set("size", strconv.Itoa(size))
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.FilterView == material.FilterViewEligible {
		v.Set("filter", string(material.FilterViewEligible))
	}
	return v
}

// GetCDMaterialList fetches and normalizes one page of deployment candidates
func (s *Service) GetCDMaterialList(ctx context.Context, q MaterialQuery) (material.CDMaterialResponse, error) {
	if err := q.Validate(); err != nil {
		return material.Empty(q.Stage), errors.NewPermanentf("invalid material query: %w", err)
	}

	resp, err := s.client.Get(ctx, fmt.Sprintf(materialPathFmt, q.PipelineID), q.values())
	if err != nil {
		return material.Empty(q.Stage), err
	}

	raw, err := apiclient.DecodeResult[*material.RawCDMaterialsResult](resp)
	if err != nil {
		return material.Empty(q.Stage), err
	}

	out := material.Normalize(raw, q.Stage, q.Offset, q.FilterView, q.DisableDefaultSelection)
	for _, m := range out.Materials {
		s.metrics.MaterialsNormalized.WithLabelValues(string(m.FilterState)).Inc()
		if m.IsSelected {
			s.metrics.DefaultSelections.Inc()
		}
	}

	s.logger.Debug("material list loaded",
		"pipeline_id", q.PipelineID,
		"stage", q.Stage,
		"offset", q.Offset,
		"count", len(out.Materials),
		"total", out.TotalCount)

	return out, nil
}

// SearchCDMaterials is GetCDMaterialList for call sites that re-issue the
// query on every change. Starting a search cancels the previous one on the
// same slot.
func (s *Service) SearchCDMaterials(ctx context.Context, slot *apiclient.AbortSlot, q MaterialQuery) (material.CDMaterialResponse, error) {
	return apiclient.AbortPreviousRequests(ctx, slot, func(ctx context.Context) (material.CDMaterialResponse, error) {
		return s.GetCDMaterialList(ctx, q)
	})
}
