package material

import "sort"

// Stage is the pipeline stage a material list was requested for
type Stage string

const (
	StagePre    Stage = "PRE"
	StageDeploy Stage = "DEPLOY"
	StagePost   Stage = "POST"
)

// ParseStage maps the accepted CLI spellings onto a Stage
func ParseStage(s string) (Stage, bool) {
	switch s {
	case "PRE", "pre", "PRECD", "precd":
		return StagePre, true
	case "DEPLOY", "deploy", "CD", "cd":
		return StageDeploy, true
	case "POST", "post", "POSTCD", "postcd":
		return StagePost, true
	}
	return "", false
}

// FilterState is the outcome of the resource filters for one artifact
type FilterState string

const (
	FilterAllowed FilterState = "ALLOWED"
	FilterBlocked FilterState = "BLOCKED"
	FilterError   FilterState = "ERROR"
)

// FilterView selects which artifacts a listing keeps
type FilterView string

const (
	FilterViewAll      FilterView = "ALL"
	FilterViewEligible FilterView = "ELIGIBLE_RESOURCES"
)

// ApprovalRuntimeState is the approval request lifecycle of an artifact
type ApprovalRuntimeState string

const (
	ApprovalInit      ApprovalRuntimeState = "INIT"
	ApprovalRequested ApprovalRuntimeState = "REQUESTED"
	ApprovalApproved  ApprovalRuntimeState = "APPROVED"
	ApprovalConsumed  ApprovalRuntimeState = "CONSUMED"
)

// ConditionType tells whether a filter condition must pass or must fail
type ConditionType string

const (
	ConditionPass ConditionType = "PASS"
	ConditionFail ConditionType = "FAIL"
)

const (
	// NotDeployed is shown for artifacts that never ran on the environment
	NotDeployed = "Not Deployed"
	// CommitURLUnavailable is returned when no commit link can be built
	CommitURLUnavailable = "NA"
	// APITokenPrefix marks API token identities in approver lists
	APITokenPrefix = "API-TOKEN:"
	// SystemIdentity is never shown as an approver
	SystemIdentity = "system"
	// DisplayTimeLayout formats deployed and commit times
	DisplayTimeLayout = "Mon, 02 Jan 2006, 03:04 PM"
	// SourceTypeWebhook is the CI source type whose branch comes from the pipeline
	SourceTypeWebhook = "WEBHOOK"
)

// CDMaterialResponse is a normalized page of deployment candidates
type CDMaterialResponse struct {
	Stage                      Stage            `json:"stage"`
	Materials                  []CDMaterial     `json:"materials"`
	TotalCount                 int              `json:"totalCount"`
	NextOffset                 int              `json:"nextOffset"`
	ApprovalPolicy             ApprovalPolicy   `json:"approvalPolicy"`
	RequestedUserID            int              `json:"requestedUserId"`
	TagsEditable               bool             `json:"tagsEditable"`
	AppReleaseTagNames         []string         `json:"appReleaseTagNames"`
	HideImageTaggingHardDelete bool             `json:"hideImageTaggingHardDelete"`
	ResourceFilters            []ResourceFilter `json:"resourceFilters"`
	IsVirtualEnvironment       bool             `json:"isVirtualEnvironment"`
	DeploymentWindow           DeploymentWindow `json:"deploymentWindow"`
	LatestWfArtifactID         int              `json:"latestWfArtifactId"`
	LatestWfArtifactStatus     string           `json:"latestWfArtifactStatus"`
}

// Selected returns the selected material, if any
func (r CDMaterialResponse) Selected() (CDMaterial, bool) {
	for _, m := range r.Materials {
		if m.IsSelected {
			return m, true
		}
	}
	return CDMaterial{}, false
}

// HasMore reports whether further pages exist
func (r CDMaterialResponse) HasMore() bool {
	return r.NextOffset < r.TotalCount
}

// CDMaterial is one deployable container image
type CDMaterial struct {
	Index                   int               `json:"index"`
	ID                      int               `json:"id"`
	Image                   string            `json:"image"`
	ImagePath               string            `json:"imagePath"`
	ImageDigest             string            `json:"imageDigest"`
	ImageRegistry           string            `json:"imageRegistry"`
	ImageRepository         string            `json:"imageRepository"`
	DeployedTime            string            `json:"deployedTime"`
	DeployedBy              string            `json:"deployedBy"`
	BuildTime               string            `json:"buildTime"`
	WfrID                   int               `json:"wfrId"`
	DataSource              string            `json:"dataSource"`
	Deployed                bool              `json:"deployed"`
	Latest                  bool              `json:"latest"`
	Scanned                 bool              `json:"scanned"`
	ScanEnabled             bool              `json:"scanEnabled"`
	Vulnerable              bool              `json:"vulnerable"`
	RunningOnParentCD       bool              `json:"runningOnParentCd"`
	ArtifactStatus          string            `json:"artifactStatus"`
	IsSelected              bool              `json:"isSelected"`
	MaterialInfo            []MaterialInfo    `json:"materialInfo"`
	FilterState             FilterState       `json:"filterState"`
	AppliedFilters          []ResourceFilter  `json:"appliedFilters"`
	AppliedFiltersTimestamp string            `json:"appliedFiltersTimestamp"`
	RegistryName            string            `json:"registryName"`
	RegistryType            string            `json:"registryType"`
	ImageComment            ImageComment      `json:"imageComment"`
	ImageReleaseTags        []ImageReleaseTag `json:"imageReleaseTags"`
	Approval                *ApprovalInfo     `json:"approval"`
	Promotion               *PromotionInfo    `json:"promotion"`
	DeployedOnEnvironments  []string          `json:"deployedOnEnvironments"`
	TriggeredBy             int               `json:"triggeredBy"`
}

// Tags returns the release tag names that are not deleted
func (m CDMaterial) Tags() []string {
	tags := make([]string, 0, len(m.ImageReleaseTags))
	for _, t := range m.ImageReleaseTags {
		if !t.Deleted {
			tags = append(tags, t.TagName)
		}
	}
	return tags
}

// HasTag reports whether the image carries the release tag or its image tag
// equals it
func (m CDMaterial) HasTag(tag string) bool {
	if tag == "" {
		return false
	}
	if m.Image == tag {
		return true
	}
	for _, t := range m.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// Eligible reports whether the filters allow deploying the image
func (m CDMaterial) Eligible() bool {
	return m.FilterState == FilterAllowed
}

// MaterialInfo is sanitized git provenance
type MaterialInfo struct {
	ModifiedTime string `json:"modifiedTime"`
	CommitLink   string `json:"commitLink"`
	Author       string `json:"author"`
	Message      string `json:"message"`
	Revision     string `json:"revision"`
	Tag          string `json:"tag"`
	WebhookData  any    `json:"webhookData"`
	URL          string `json:"url"`
	Branch       string `json:"branch"`
	Type         string `json:"type"`
}

// ResourceFilter is a named set of CEL conditions
type ResourceFilter struct {
	ID          int               `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Conditions  []FilterCondition `json:"conditions"`
}

// FilterCondition is one CEL expression of a filter
type FilterCondition struct {
	Type       ConditionType `json:"conditionType"`
	Expression string        `json:"expression"`
}

// ImageComment is the free text comment on an image
type ImageComment struct {
	ID         int    `json:"id"`
	Comment    string `json:"comment"`
	ArtifactID int    `json:"artifactId"`
}

// ImageReleaseTag is a user defined tag on an image
type ImageReleaseTag struct {
	ID         int    `json:"id"`
	TagName    string `json:"tagName"`
	AppID      int    `json:"appId"`
	ArtifactID int    `json:"artifactId"`
	Deleted    bool   `json:"deleted"`
}

// DeploymentWindow is the window state carried by the material payload
type DeploymentWindow struct {
	UserActionState string `json:"userActionState"`
	Type            string `json:"type"`
}

// ApprovalPolicy is the approval configuration of the DEPLOY stage together
// with who may approve
type ApprovalPolicy struct {
	Enabled           bool                           `json:"enabled"`
	Type              string                         `json:"type"`
	RequiredCount     int                            `json:"requiredCount"`
	SpecificUsers     SpecificUsersRequirement       `json:"specificUsers"`
	Groups            map[string]GroupRequirement    `json:"groups"`
	Approvers         map[string]ApproverEligibility `json:"approvers"`
	ApproverEmails    []string                       `json:"approverEmails"`
	ApproverAPITokens []string                       `json:"approverApiTokens"`
	CanApproverDeploy bool                           `json:"canApproverDeploy"`
}

// GroupIdentifiers returns the group identifiers in sorted order
func (p ApprovalPolicy) GroupIdentifiers() []string {
	ids := make([]string, 0, len(p.Groups))
	for id := range p.Groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SpecificUsersRequirement requires approvals from named users
type SpecificUsersRequirement struct {
	RequiredCount int      `json:"requiredCount"`
	Emails        []string `json:"emails"`
	APITokens     []string `json:"apiTokens"`
}

// GroupRequirement requires approvals from members of one group
type GroupRequirement struct {
	Identifier    string   `json:"identifier"`
	Name          string   `json:"name"`
	RequiredCount int      `json:"requiredCount"`
	Emails        []string `json:"emails"`
	APITokens     []string `json:"apiTokens"`
}

// ApproverEligibility describes why an identity may approve
type ApproverEligibility struct {
	Identity     string   `json:"identity"`
	APIToken     bool     `json:"apiToken"`
	SpecificUser bool     `json:"specificUser"`
	Groups       []string `json:"groups"`
}

// ApprovalInfo is the approval state of one artifact
type ApprovalInfo struct {
	RequestID           int                  `json:"requestId"`
	RuntimeState        ApprovalRuntimeState `json:"runtimeState"`
	RequestedBy         string               `json:"requestedBy"`
	RequestedByUserID   int                  `json:"requestedByUserId"`
	ApprovedBy          []string             `json:"approvedBy"`
	ApprovedByAPITokens []string             `json:"approvedByApiTokens"`
	GroupApprovals      map[string][]string  `json:"groupApprovals"`
	ApprovalCount       int                  `json:"approvalCount"`
	Approved            bool                 `json:"approved"`
	CurrentUserApproved bool                 `json:"currentUserApproved"`
	Deployable          bool                 `json:"deployable"`
}

// PromotionInfo is the promotion state of one artifact
type PromotionInfo struct {
	RuntimeState        ApprovalRuntimeState `json:"runtimeState"`
	PromotedFrom        string               `json:"promotedFrom"`
	PromotedFromType    string               `json:"promotedFromType"`
	PromotedOn          string               `json:"promotedOn"`
	RequestedBy         string               `json:"requestedBy"`
	ApprovedBy          []string             `json:"approvedBy"`
	ApprovedByAPITokens []string             `json:"approvedByApiTokens"`
}
