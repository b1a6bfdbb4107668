// Package material turns the orchestrator's CD material payload into the
// stable shape the rest of cdpilot works with. Nothing here performs I/O.
package material

import (
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
)

// Empty returns the all-defaults response used when the payload is absent
func Empty(stage Stage) CDMaterialResponse {
	return CDMaterialResponse{
		Stage:              stage,
		Materials:          []CDMaterial{},
		ApprovalPolicy:     emptyApprovalPolicy(),
		AppReleaseTagNames: []string{},
		ResourceFilters:    []ResourceFilter{},
	}
}

// Normalize converts raw into a CDMaterialResponse.
//
// On the first page (offset 0), unless disableDefaultSelection is set, the
// first ALLOWED artifact that is not vulnerable is selected. With
// FilterViewEligible only ALLOWED artifacts are kept. Calling Normalize twice
// with the same arguments yields equal results.
func Normalize(raw *RawCDMaterialsResult, stage Stage, offset int, view FilterView, disableDefaultSelection bool) CDMaterialResponse {
	resp := Empty(stage)
	resp.NextOffset = offset
	if raw == nil {
		return resp
	}

	resp.TotalCount = raw.TotalCount
	resp.NextOffset = offset + len(raw.CIArtifacts)
	resp.RequestedUserID = raw.RequestedUserID
	resp.TagsEditable = raw.TagsEditable
	resp.HideImageTaggingHardDelete = raw.HideImageTaggingHardDelete
	resp.IsVirtualEnvironment = raw.IsVirtualEnvironment
	resp.LatestWfArtifactID = raw.LatestWfArtifactID
	resp.LatestWfArtifactStatus = raw.LatestWfArtifactStatus
	resp.AppReleaseTagNames = append(resp.AppReleaseTagNames, raw.AppReleaseTagNames...)
	resp.ResourceFilters = convertFilters(raw.ResourceFilters)
	if raw.DeploymentWindowState != nil {
		resp.DeploymentWindow = DeploymentWindow{
			UserActionState: raw.DeploymentWindowState.UserActionState,
			Type:            raw.DeploymentWindowState.Type,
		}
	}
	resp.ApprovalPolicy = deriveApprovalPolicy(raw, stage)

	selectFirst := offset == 0 && !disableDefaultSelection
	materials := make([]CDMaterial, 0, len(raw.CIArtifacts))
	for i, artifact := range raw.CIArtifacts {
		m := convertArtifact(i, artifact, raw, stage, resp.ApprovalPolicy)
		if selectFirst && m.FilterState == FilterAllowed && !m.Vulnerable {
			m.IsSelected = true
			selectFirst = false
		}
		materials = append(materials, m)
	}

	if view == FilterViewEligible {
		materials = eligibleOnly(materials)
	}
	resp.Materials = materials
	return resp
}

func convertArtifact(index int, a RawArtifact, raw *RawCDMaterialsResult, stage Stage, policy ApprovalPolicy) CDMaterial {
	m := CDMaterial{
		Index:                   index,
		ID:                      a.ID,
		Image:                   ShortImageTag(a.Image),
		ImagePath:               a.Image,
		ImageDigest:             a.ImageDigest,
		DeployedTime:            deployedTime(a.DeployedTime),
		DeployedBy:              a.DeployedBy,
		BuildTime:               formatTime(a.BuildTime),
		WfrID:                   a.WfrID,
		DataSource:              a.DataSource,
		Deployed:                a.Deployed,
		Latest:                  a.Latest,
		Scanned:                 a.Scanned,
		ScanEnabled:             a.ScanEnabled,
		Vulnerable:              a.Vulnerable,
		RunningOnParentCD:       a.RunningOnParentCD,
		FilterState:             filterState(a.FilterState),
		AppliedFilters:          convertFilters(a.AppliedFilters),
		AppliedFiltersTimestamp: formatTime(a.AppliedFiltersTimestamp),
		RegistryName:            a.RegistryName,
		RegistryType:            a.RegistryType,
		ImageReleaseTags:        make([]ImageReleaseTag, 0, len(a.ImageReleaseTags)),
		DeployedOnEnvironments:  append([]string{}, a.DeployedOnEnvironments...),
		TriggeredBy:             a.TriggeredBy,
		MaterialInfo:            make([]MaterialInfo, 0, len(a.MaterialInfo)),
	}

	m.ImageRegistry, m.ImageRepository = imageLocation(a.Image)

	if raw.LatestWfArtifactID != 0 && raw.LatestWfArtifactStatus != "" && a.ID == raw.LatestWfArtifactID {
		m.ArtifactStatus = raw.LatestWfArtifactStatus
	}

	if a.ImageComment != nil {
		m.ImageComment = ImageComment{
			ID:         a.ImageComment.ID,
			Comment:    a.ImageComment.Comment,
			ArtifactID: a.ImageComment.ArtifactID,
		}
	}
	for _, t := range a.ImageReleaseTags {
		m.ImageReleaseTags = append(m.ImageReleaseTags, ImageReleaseTag(t))
	}

	for _, info := range a.MaterialInfo {
		branch := info.Branch
		if a.CIConfigureSourceType == SourceTypeWebhook {
			branch = a.CIConfigureSourceValue
		}
		m.MaterialInfo = append(m.MaterialInfo, MaterialInfo{
			ModifiedTime: formatTime(info.ModifiedTime),
			CommitLink:   CreateGitCommitURL(info.URL, info.Revision),
			Author:       info.Author,
			Message:      info.Message,
			Revision:     info.Revision,
			Tag:          info.Tag,
			WebhookData:  info.WebhookData,
			URL:          info.URL,
			Branch:       branch,
			Type:         a.CIConfigureSourceType,
		})
	}

	if stage == StageDeploy {
		m.Approval = deriveApproval(a.UserApprovalMetadata, policy, raw.RequestedUserID)
	}
	m.Promotion = derivePromotion(a.PromotionApprovalMetadata)

	return m
}

// ShortImageTag returns the text after the last ':' of an image reference,
// or the whole reference when it has none
func ShortImageTag(image string) string {
	if i := strings.LastIndex(image, ":"); i >= 0 {
		return image[i+1:]
	}
	return image
}

// imageLocation splits an image reference into registry and repository. An
// unparseable reference yields empty strings.
func imageLocation(image string) (string, string) {
	if image == "" {
		return "", ""
	}
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", ""
	}
	return ref.Context().RegistryStr(), ref.Context().RepositoryStr()
}

func filterState(v *int) FilterState {
	if v == nil {
		return FilterAllowed
	}
	switch *v {
	case 0:
		return FilterAllowed
	case 1:
		return FilterBlocked
	}
	return FilterError
}

func convertFilters(raw []RawResourceFilter) []ResourceFilter {
	filters := make([]ResourceFilter, 0, len(raw))
	for _, f := range raw {
		conditions := make([]FilterCondition, 0, len(f.Conditions))
		for _, c := range f.Conditions {
			t := ConditionPass
			if c.ConditionType == 1 {
				t = ConditionFail
			}
			conditions = append(conditions, FilterCondition{Type: t, Expression: c.Expression})
		}
		filters = append(filters, ResourceFilter{
			ID:          f.ID,
			Name:        f.Name,
			Description: f.Description,
			Conditions:  conditions,
		})
	}
	return filters
}

func eligibleOnly(materials []CDMaterial) []CDMaterial {
	out := make([]CDMaterial, 0, len(materials))
	for _, m := range materials {
		if m.FilterState == FilterAllowed {
			out = append(out, m)
		}
	}
	return out
}

// deployedTime formats the deployment timestamp, or NotDeployed when there is
// none
func deployedTime(s string) string {
	formatted := formatTime(s)
	if formatted == "" {
		return NotDeployed
	}
	return formatted
}

// formatTime renders an RFC 3339 timestamp with DisplayTimeLayout in the
// timestamp's own zone. Empty and zero timestamps yield "", anything that
// does not parse is returned unchanged.
func formatTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	if t.IsZero() || t.Year() <= 1 {
		return ""
	}
	return t.Format(DisplayTimeLayout)
}
