package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daimoniac/cdpilot/internal/apiclient"
	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/daimoniac/cdpilot/internal/observability"
	"github.com/daimoniac/cdpilot/internal/policy"
	"github.com/daimoniac/cdpilot/internal/service"
)

// API is the part of the orchestrator service a bulk deployment needs
type API interface {
	GetCDMaterialList(ctx context.Context, q service.MaterialQuery) (material.CDMaterialResponse, error)
	SearchCDMaterials(ctx context.Context, slot *apiclient.AbortSlot, q service.MaterialQuery) (material.CDMaterialResponse, error)
	GetDeploymentWindowState(ctx context.Context, appID, envID int) (service.DeploymentWindowState, error)
	TriggerCDNode(ctx context.Context, req service.TriggerRequest) (service.TriggerResult, error)
}

// Target is the stage and environment every application is deployed to
type Target struct {
	Stage   material.Stage
	EnvID   int
	EnvName string
}

// Config contains configuration for the orchestrator
type Config struct {
	BatchSize int
	ReqPerSec int
	PageSize  int
}

// DefaultConfig returns default orchestrator configuration
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		PageSize:  service.DefaultPageSize,
	}
}

// Orchestrator drives one bulk deployment against a Target
type Orchestrator struct {
	api       API
	runner    *Runner
	explainer policy.FilterExplainer
	target    Target
	config    Config
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu    sync.Mutex
	slots map[int]*apiclient.AbortSlot
}

// NewOrchestrator creates an orchestrator. explainer may be nil, in which
// case filtered images are reported without filter names.
func NewOrchestrator(api API, explainer policy.FilterExplainer, target Target, config Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PageSize <= 0 {
		config.PageSize = service.DefaultPageSize
	}
	return &Orchestrator{
		api:       api,
		runner:    NewRunner(config.BatchSize, config.ReqPerSec, logger),
		explainer: explainer,
		target:    target,
		config:    config,
		logger:    logger,
		metrics:   observability.GetMetrics(),
		slots:     make(map[int]*apiclient.AbortSlot),
	}
}

// Target returns the stage and environment of the deployment
func (o *Orchestrator) Target() Target {
	return o.target
}

// WithTarget returns an orchestrator sharing o's dependencies that deploys to t
func (o *Orchestrator) WithTarget(t Target) *Orchestrator {
	return NewOrchestrator(o.api, o.explainer, t, o.config, o.logger)
}

// Load fetches the first page of images and the deployment window state of
// every app. A failure for one app is stored in its entry and does not affect
// the others.
func (o *Orchestrator) Load(ctx context.Context, apps []App) AppInfoMap {
	outcomes := Run(ctx, o.runner, len(apps), func(ctx context.Context, i int) (AppInfo, error) {
		return o.loadApp(ctx, apps[i])
	})

	m := make(AppInfoMap, len(apps))
	failed := 0
	for i, oc := range outcomes {
		info := oc.Value
		if !oc.Fulfilled() {
			failed++
			info = AppInfo{
				App:       apps[i],
				Materials: material.Empty(o.target.Stage),
				View:      defaultView(),
				Window:    service.DeploymentWindowState{AppID: apps[i].ID, EnvID: o.target.EnvID, UserActionState: service.ActionAllowed},
				Err:       oc.Err,
			}
			o.logger.Warn("failed to load app for bulk deployment",
				"app_id", apps[i].ID,
				"app_name", apps[i].Name,
				"error", oc.Err)
		}
		m[info.App.ID] = info
	}

	o.logger.Info("bulk deployment loaded",
		"stage", o.target.Stage,
		"env_id", o.target.EnvID,
		"apps", len(apps),
		"failed", failed)
	return m
}

func (o *Orchestrator) loadApp(ctx context.Context, app App) (AppInfo, error) {
	resp, err := o.api.GetCDMaterialList(ctx, service.MaterialQuery{
		PipelineID: app.PipelineID,
		Stage:      o.target.Stage,
		Size:       o.config.PageSize,
	})
	if err != nil {
		return AppInfo{}, fmt.Errorf("loading images of %s: %w", app.Name, err)
	}

	window := service.DeploymentWindowState{AppID: app.ID, EnvID: o.target.EnvID, UserActionState: service.ActionAllowed}
	if o.target.EnvID > 0 {
		window, err = o.api.GetDeploymentWindowState(ctx, app.ID, o.target.EnvID)
		if err != nil {
			return AppInfo{}, fmt.Errorf("loading deployment window of %s: %w", app.Name, err)
		}
	}

	return AppInfo{
		App:       app,
		Materials: resp,
		View:      defaultView(),
		Window:    window,
	}, nil
}

func defaultView() ViewState {
	return ViewState{
		FilterView:         material.FilterViewAll,
		SidebarTab:         TabImages,
		RuntimeParamErrors: map[int]string{},
	}
}

// LoadMore appends the next page of images for appID. Nothing on the new
// page is selected. On error m is returned unchanged.
func (o *Orchestrator) LoadMore(ctx context.Context, m AppInfoMap, appID int) (AppInfoMap, error) {
	info, ok := m[appID]
	if !ok {
		return m, fmt.Errorf("app %d is not part of the bulk deployment", appID)
	}
	if !info.Materials.HasMore() {
		return m, nil
	}

	next, err := o.api.GetCDMaterialList(ctx, service.MaterialQuery{
		PipelineID:              info.App.PipelineID,
		Stage:                   o.target.Stage,
		Offset:                  info.Materials.NextOffset,
		Size:                    o.config.PageSize,
		Search:                  info.View.SearchText,
		FilterView:              info.View.FilterView,
		DisableDefaultSelection: true,
	})
	if err != nil {
		return m, err
	}

	info.Materials = material.AppendPage(info.Materials, next)
	return m.With(info), nil
}

// Search reloads the first page of appID filtered by text. A newer search or
// filter change for the same app cancels this one.
func (o *Orchestrator) Search(ctx context.Context, m AppInfoMap, appID int, text string) (AppInfoMap, error) {
	info, ok := m[appID]
	if !ok {
		return m, fmt.Errorf("app %d is not part of the bulk deployment", appID)
	}
	view := info.View
	view.SearchText = text
	return o.reload(ctx, m, info, view)
}

// SetFilterView reloads the first page of appID showing either every image
// or only the ones passing resource filters.
func (o *Orchestrator) SetFilterView(ctx context.Context, m AppInfoMap, appID int, filterView material.FilterView) (AppInfoMap, error) {
	info, ok := m[appID]
	if !ok {
		return m, fmt.Errorf("app %d is not part of the bulk deployment", appID)
	}
	view := info.View
	view.FilterView = filterView
	return o.reload(ctx, m, info, view)
}

func (o *Orchestrator) reload(ctx context.Context, m AppInfoMap, info AppInfo, view ViewState) (AppInfoMap, error) {
	resp, err := o.api.SearchCDMaterials(ctx, o.slot(info.App.ID), service.MaterialQuery{
		PipelineID: info.App.PipelineID,
		Stage:      o.target.Stage,
		Size:       o.config.PageSize,
		Search:     view.SearchText,
		FilterView: view.FilterView,
	})
	if err != nil {
		return m, err
	}

	info.View = view
	info.Materials = resp
	info.Warning = ""
	info.Err = nil
	return m.With(info), nil
}

func (o *Orchestrator) slot(appID int) *apiclient.AbortSlot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.slots[appID]
	if !ok {
		s = &apiclient.AbortSlot{}
		o.slots[appID] = s
	}
	return s
}

// Close aborts any search still in flight
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, s := range o.slots {
		s.Abort()
	}
}
