package bulk

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/daimoniac/cdpilot/internal/service"
)

// App identifies one application taking part in a bulk deployment
type App struct {
	ID         int    `json:"appId"`
	Name       string `json:"appName"`
	PipelineID int    `json:"pipelineId"`
}

// SidebarTab is the panel shown for an application
type SidebarTab string

const (
	TabImages        SidebarTab = "IMAGES"
	TabRuntimeParams SidebarTab = "RUNTIME_PARAMETERS"
)

// ViewState is the per-application browsing state
type ViewState struct {
	SearchText string
	FilterView material.FilterView
	SidebarTab SidebarTab

	// RuntimeParamErrors maps a runtime parameter row to its validation message
	RuntimeParamErrors map[int]string
}

// AppInfo is everything known about one application in a bulk deployment.
// Values are replaced, never modified in place.
type AppInfo struct {
	App           App
	Materials     material.CDMaterialResponse
	View          ViewState
	Window        service.DeploymentWindowState
	Strategy      string
	RuntimeParams []service.RuntimeParam
	Warning       string
	Err           error
}

// Selected returns the material chosen for deployment
func (a AppInfo) Selected() (material.CDMaterial, bool) {
	return a.Materials.Selected()
}

// AppInfoMap holds the bulk state keyed by application id. Every mutating
// helper returns a new map and leaves the receiver untouched.
type AppInfoMap map[int]AppInfo

// With returns a copy of m with info stored under its application id
func (m AppInfoMap) With(info AppInfo) AppInfoMap {
	out := make(AppInfoMap, len(m)+1)
	maps.Copy(out, m)
	out[info.App.ID] = info
	return out
}

// Update returns a copy of m with fn applied to the entry of appID. Unknown
// ids leave the map unchanged.
func (m AppInfoMap) Update(appID int, fn func(AppInfo) AppInfo) AppInfoMap {
	info, ok := m[appID]
	if !ok {
		return m
	}
	return m.With(fn(info))
}

// Sorted returns the entries ordered by application name, then id
func (m AppInfoMap) Sorted() []AppInfo {
	out := make([]AppInfo, 0, len(m))
	for _, info := range m {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].App.Name != out[j].App.Name {
			return out[i].App.Name < out[j].App.Name
		}
		return out[i].App.ID < out[j].App.ID
	})
	return out
}

// AppIDs returns the application ids in ascending order
func (m AppInfoMap) AppIDs() []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// WarningCount returns the number of applications carrying a tag warning
func WarningCount(m AppInfoMap) int {
	n := 0
	for _, info := range m {
		if info.Warning != "" {
			n++
		}
	}
	return n
}

// SelectImage selects materialID for appID and clears its warning
func SelectImage(m AppInfoMap, appID, materialID int) (AppInfoMap, error) {
	info, ok := m[appID]
	if !ok {
		return m, fmt.Errorf("app %d is not part of the bulk deployment", appID)
	}
	materials, found := material.SelectMaterial(info.Materials.Materials, materialID)
	if !found {
		return m, fmt.Errorf("image %d is not loaded for app %q", materialID, info.App.Name)
	}
	info.Materials.Materials = materials
	info.Warning = ""
	return m.With(info), nil
}

// SetStrategy sets the deployment strategy used when triggering appID
func SetStrategy(m AppInfoMap, appID int, strategy string) AppInfoMap {
	return m.Update(appID, func(info AppInfo) AppInfo {
		info.Strategy = strategy
		return info
	})
}

// SetSidebarTab switches the panel shown for appID
func SetSidebarTab(m AppInfoMap, appID int, tab SidebarTab) AppInfoMap {
	return m.Update(appID, func(info AppInfo) AppInfo {
		info.View.SidebarTab = tab
		return info
	})
}

// SetRuntimeParams stores params for appID and validates each row. Keys are
// required and must be unique.
func SetRuntimeParams(m AppInfoMap, appID int, params []service.RuntimeParam) AppInfoMap {
	return m.Update(appID, func(info AppInfo) AppInfo {
		info.RuntimeParams = append([]service.RuntimeParam(nil), params...)
		info.View.RuntimeParamErrors = validateRuntimeParams(params)
		return info
	})
}

func validateRuntimeParams(params []service.RuntimeParam) map[int]string {
	errs := make(map[int]string)
	seen := make(map[string]int, len(params))
	for i, p := range params {
		key := strings.TrimSpace(p.Key)
		if key == "" {
			errs[i] = "key is required"
			continue
		}
		if first, dup := seen[key]; dup {
			errs[i] = fmt.Sprintf("duplicate key %q (row %d)", key, first+1)
			continue
		}
		seen[key] = i
	}
	return errs
}
