package material

// Raw types mirror the orchestrator's CD material payload. Every field is
// optional on the wire; nothing outside this package reads them.

// RawCDMaterialsResult is the result of GET app/cd-pipeline/{id}/material
type RawCDMaterialsResult struct {
	CIArtifacts                []RawArtifact        `json:"ci_artifacts"`
	LatestWfArtifactID         int                  `json:"latest_wf_artifact_id"`
	LatestWfArtifactStatus     string               `json:"latest_wf_artifact_status"`
	TagsEditable               bool                 `json:"tagsEditable"`
	AppReleaseTagNames         []string             `json:"appReleaseTagNames"`
	HideImageTaggingHardDelete bool                 `json:"hideImageTaggingHardDelete"`
	ResourceFilters            []RawResourceFilter  `json:"resourceFilters"`
	TotalCount                 int                  `json:"totalCount"`
	RequestedUserID            int                  `json:"requestedUserId"`
	ApprovalUsers              []string             `json:"approvalUsers"`
	ApproverGroups             []RawApproverGroup   `json:"approverGroups"`
	UserApprovalConfig         *RawApprovalConfig   `json:"userApprovalConfig"`
	CanApproverDeploy          bool                 `json:"canApproverDeploy"`
	IsVirtualEnvironment       bool                 `json:"isVirtualEnvironment"`
	DeploymentWindowState      *RawDeploymentWindow `json:"deploymentWindowArtifactMetadata"`
}

// RawArtifact is one image candidate
type RawArtifact struct {
	ID                        int                   `json:"id"`
	Image                     string                `json:"image"`
	ImageDigest               string                `json:"image_digest"`
	MaterialInfo              []RawMaterialInfo     `json:"material_info"`
	DataSource                string                `json:"data_source"`
	DeployedTime              string                `json:"deployed_time"`
	DeployedBy                string                `json:"deployedBy"`
	BuildTime                 string                `json:"build_time"`
	Deployed                  bool                  `json:"deployed"`
	Latest                    bool                  `json:"latest"`
	Vulnerable                bool                  `json:"vulnerable"`
	Scanned                   bool                  `json:"scanned"`
	ScanEnabled               bool                  `json:"scanEnabled"`
	RunningOnParentCD         bool                  `json:"runningOnParentCd"`
	WfrID                     int                   `json:"wfrId"`
	CIConfigureSourceType     string                `json:"ciConfigureSourceType"`
	CIConfigureSourceValue    string                `json:"ciConfigureSourceValue"`
	RegistryName              string                `json:"registryName"`
	RegistryType              string                `json:"registryType"`
	FilterState               *int                  `json:"filterState"`
	AppliedFilters            []RawResourceFilter   `json:"appliedFilters"`
	AppliedFiltersTimestamp   string                `json:"appliedFiltersTimestamp"`
	ImageComment              *RawImageComment      `json:"imageComment"`
	ImageReleaseTags          []RawImageReleaseTag  `json:"imageReleaseTags"`
	UserApprovalMetadata      *RawApprovalMetadata  `json:"userApprovalMetadata"`
	PromotionApprovalMetadata *RawPromotionMetadata `json:"promotionApprovalMetadata"`
	DeployedOnEnvironments    []string              `json:"deployedOnEnvironments"`
	TriggeredBy               int                   `json:"triggeredBy"`
}

// RawMaterialInfo is the git provenance of an artifact
type RawMaterialInfo struct {
	Author       string `json:"author"`
	Branch       string `json:"branch"`
	Message      string `json:"message"`
	ModifiedTime string `json:"modifiedTime"`
	Revision     string `json:"revision"`
	URL          string `json:"url"`
	Tag          string `json:"tag"`
	WebhookData  any    `json:"webhookData"`
}

// RawResourceFilter is a filter attached to the environment or artifact
type RawResourceFilter struct {
	ID          int                  `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Conditions  []RawFilterCondition `json:"conditions"`
}

// RawFilterCondition is a single CEL condition. ConditionType 0 is a pass
// condition, 1 a fail condition.
type RawFilterCondition struct {
	ConditionType int    `json:"conditionType"`
	Expression    string `json:"expression"`
}

// RawImageComment is the free text comment on an image
type RawImageComment struct {
	ID         int    `json:"id"`
	Comment    string `json:"comment"`
	ArtifactID int    `json:"artifactId"`
}

// RawImageReleaseTag is a user defined tag on an image
type RawImageReleaseTag struct {
	ID         int    `json:"id"`
	TagName    string `json:"tagName"`
	AppID      int    `json:"appId"`
	ArtifactID int    `json:"artifactId"`
	Deleted    bool   `json:"deleted"`
}

// RawApprovalConfig is the stage approval policy
type RawApprovalConfig struct {
	Type          string                    `json:"type"`
	RequiredCount int                       `json:"requiredCount"`
	SpecificUsers *RawSpecificUsers         `json:"specificUsers"`
	UserGroups    []RawUserGroupRequirement `json:"userGroups"`
}

// RawSpecificUsers names users whose approval is required
type RawSpecificUsers struct {
	Identifiers   []string `json:"identifiers"`
	RequiredCount int      `json:"requiredCount"`
}

// RawUserGroupRequirement requires approvals from a group
type RawUserGroupRequirement struct {
	Identifier    string `json:"identifier"`
	RequiredCount int    `json:"requiredCount"`
}

// RawApproverGroup lists the members of an approver group
type RawApproverGroup struct {
	Identifier string   `json:"identifier"`
	Name       string   `json:"name"`
	Members    []string `json:"members"`
}

// RawApprovalMetadata is the approval state of one artifact
type RawApprovalMetadata struct {
	ApprovalRequestID    int               `json:"approvalRequestId"`
	ApprovalRuntimeState int               `json:"approvalRuntimeState"`
	ApprovedUsersData    []RawApprovalUser `json:"approvedUsersData"`
	RequestedUserData    *RawApprovalUser  `json:"requestedUserData"`
}

// RawApprovalUser is one approver or requester
type RawApprovalUser struct {
	UserID       int               `json:"userId"`
	UserEmail    string            `json:"userEmail"`
	UserResponse int               `json:"userResponse"`
	UserGroups   []RawUserGroupRef `json:"userGroups"`
	ActionTime   string            `json:"userActionTime"`
}

// RawUserGroupRef references a group a user belongs to
type RawUserGroupRef struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// RawPromotionMetadata is the promotion state of one artifact
type RawPromotionMetadata struct {
	ApprovalRuntimeState int               `json:"approvalRuntimeState"`
	ApprovedUsersData    []RawApprovalUser `json:"approvedUsersData"`
	RequestedUserData    *RawApprovalUser  `json:"requestedUserData"`
	PromotedFrom         string            `json:"promotedFrom"`
	PromotedFromType     string            `json:"promotedFromType"`
	PromotedOn           string            `json:"promotedOn"`
}

// RawDeploymentWindow is the window state embedded in the material payload
type RawDeploymentWindow struct {
	UserActionState string `json:"userActionState"`
	Type            string `json:"type"`
}
