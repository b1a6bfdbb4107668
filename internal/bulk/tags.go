package bulk

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/daimoniac/cdpilot/internal/material"
)

// Tag sentinels accepted by ApplyTag. Image tags cannot start with '@', so
// they never shadow a real tag such as "latest".
const (
	// TagLatest selects the newest image of every app
	TagLatest = "@latest"
	// TagActive selects the image currently running on the environment
	TagActive = "@active"
)

// Warning reasons, used as metric labels
const (
	reasonAbsent     = "absent"
	reasonVulnerable = "vulnerable"
	reasonFiltered   = "filtered"
	reasonApproval   = "approval"
)

// ApplyTag selects the image matching tag in every app that loaded
// successfully. Apps where the matching image is missing, vulnerable,
// filtered out or unapproved end up with nothing selected and a warning.
func (o *Orchestrator) ApplyTag(ctx context.Context, m AppInfoMap, tag string) AppInfoMap {
	out := make(AppInfoMap, len(m))
	for id, info := range m {
		if info.Err != nil {
			out[id] = info
			continue
		}
		out[id] = o.applyTag(ctx, info, tag)
	}
	return out
}

func (o *Orchestrator) applyTag(ctx context.Context, info AppInfo, tag string) AppInfo {
	info.Warning = ""
	candidate, found := findTagged(info.Materials.Materials, tag)
	if !found {
		info.Materials.Materials = material.ClearSelection(info.Materials.Materials)
		return o.warn(info, reasonAbsent, fmt.Sprintf("Tag '%s' is not present", displayTag(tag)))
	}

	label := candidate.Image
	if candidate.Vulnerable {
		info.Materials.Materials = material.ClearSelection(info.Materials.Materials)
		return o.warn(info, reasonVulnerable, fmt.Sprintf("Image '%s' has security vulnerabilities", label))
	}

	if !candidate.Eligible() {
		info.Materials.Materials = material.ClearSelection(info.Materials.Materials)
		filters := o.blockingFilters(ctx, candidate, info.Materials.ResourceFilters)
		msg := fmt.Sprintf("Image '%s' is filtered out", label)
		if len(filters) > 0 {
			msg = fmt.Sprintf("Image '%s' is filtered out by %s", label, strings.Join(filters, ", "))
		}
		return o.warn(info, reasonFiltered, msg)
	}

	if info.Materials.ApprovalPolicy.Enabled && candidate.Approval != nil && !candidate.Approval.Deployable {
		info.Materials.Materials = material.ClearSelection(info.Materials.Materials)
		msg := fmt.Sprintf("Image '%s' is not approved", label)
		if candidate.Approval.Approved {
			msg = fmt.Sprintf("Image '%s' was approved by you and cannot be deployed by you", label)
		}
		return o.warn(info, reasonApproval, msg)
	}

	info.Materials.Materials, _ = material.SelectMaterial(info.Materials.Materials, candidate.ID)
	return info
}

func (o *Orchestrator) warn(info AppInfo, reason, msg string) AppInfo {
	o.metrics.TagWarnings.WithLabelValues(reason).Inc()
	info.Warning = msg
	return info
}

// blockingFilters names the filters that reject m. The local evaluation is
// preferred; the server's applied filter list is the fallback.
func (o *Orchestrator) blockingFilters(ctx context.Context, m material.CDMaterial, filters []material.ResourceFilter) []string {
	if o.explainer != nil && len(filters) > 0 {
		explanation, err := o.explainer.Explain(ctx, m, filters)
		if err != nil {
			o.logger.Debug("failed to explain resource filters", "material_id", m.ID, "error", err)
		} else if names := explanation.Blocking(); len(names) > 0 {
			return names
		}
	}

	names := make([]string, 0, len(m.AppliedFilters))
	for _, f := range m.AppliedFilters {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	return names
}

func findTagged(materials []material.CDMaterial, tag string) (material.CDMaterial, bool) {
	switch tag {
	case TagLatest:
		if len(materials) > 0 {
			return materials[0], true
		}
		return material.CDMaterial{}, false
	case TagActive:
		for _, m := range materials {
			if m.Deployed && m.Latest {
				return m, true
			}
		}
		return material.CDMaterial{}, false
	}
	return findPinned(materials, tag)
}

// PinImage selects the image tagged tag for appID regardless of the tag
// applied to the other apps. When the loaded pages do not carry it the app is
// searched for tag and further pages are fetched until it turns up.
func (o *Orchestrator) PinImage(ctx context.Context, m AppInfoMap, appID int, tag string) (AppInfoMap, error) {
	info, ok := m[appID]
	if !ok {
		return m, fmt.Errorf("app %d is not part of the bulk deployment", appID)
	}
	if found, ok := findPinned(info.Materials.Materials, tag); ok {
		return SelectImage(m, appID, found.ID)
	}

	out, err := o.Search(ctx, m, appID, tag)
	if err != nil {
		return m, fmt.Errorf("searching %s for %q: %w", info.App.Name, tag, err)
	}
	for {
		current := out[appID]
		if found, ok := findPinned(current.Materials.Materials, tag); ok {
			return SelectImage(out, appID, found.ID)
		}
		if !current.Materials.HasMore() {
			return m, fmt.Errorf("image %q not found for app %q", tag, info.App.Name)
		}
		if out, err = o.LoadMore(ctx, out, appID); err != nil {
			return m, fmt.Errorf("loading more images of %s: %w", info.App.Name, err)
		}
		// an empty page would never advance
		if len(out[appID].Materials.Materials) == len(current.Materials.Materials) {
			return m, fmt.Errorf("image %q not found for app %q", tag, info.App.Name)
		}
	}
}

func findPinned(materials []material.CDMaterial, tag string) (material.CDMaterial, bool) {
	for _, m := range materials {
		if m.HasTag(tag) {
			return m, true
		}
	}
	return material.CDMaterial{}, false
}

func displayTag(tag string) string {
	switch tag {
	case TagLatest:
		return "latest image"
	case TagActive:
		return "active image"
	}
	return tag
}

// TagOptions lists every tag found across the loaded images. Tags that parse
// as semantic versions come first, newest first; the rest follow in
// alphabetical order.
func TagOptions(m AppInfoMap) []string {
	seen := make(map[string]struct{})
	for _, info := range m {
		for _, mat := range info.Materials.Materials {
			if mat.Image != "" {
				seen[mat.Image] = struct{}{}
			}
			for _, t := range mat.Tags() {
				seen[t] = struct{}{}
			}
		}
	}

	type option struct {
		tag     string
		version *semver.Version
	}
	options := make([]option, 0, len(seen))
	for tag := range seen {
		v, err := semver.NewVersion(tag)
		if err != nil {
			v = nil
		}
		options = append(options, option{tag: tag, version: v})
	}

	sort.Slice(options, func(i, j int) bool {
		a, b := options[i], options[j]
		switch {
		case a.version != nil && b.version != nil:
			if !a.version.Equal(b.version) {
				return a.version.GreaterThan(b.version)
			}
			return a.tag < b.tag
		case a.version != nil:
			return true
		case b.version != nil:
			return false
		}
		return a.tag < b.tag
	})

	tags := make([]string, len(options))
	for i, opt := range options {
		tags[i] = opt.tag
	}
	return tags
}
