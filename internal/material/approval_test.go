package material

import (
	"reflect"
	"testing"
)

func approvalFixture() *RawCDMaterialsResult {
	return &RawCDMaterialsResult{
		RequestedUserID: 7,
		ApprovalUsers: []string{
			"zoe@example.com",
			"API-TOKEN:ci-bot",
			"system",
			"Adam@example.com",
			"bob@example.com",
		},
		UserApprovalConfig: &RawApprovalConfig{
			Type:          "SPECIFIC",
			RequiredCount: 2,
			SpecificUsers: &RawSpecificUsers{
				Identifiers:   []string{"bob@example.com", "API-TOKEN:release-bot"},
				RequiredCount: 1,
			},
			UserGroups: []RawUserGroupRequirement{
				{Identifier: "qa", RequiredCount: 1},
			},
		},
		ApproverGroups: []RawApproverGroup{
			{Identifier: "qa", Name: "QA", Members: []string{"zoe@example.com", "carol@example.com", "SYSTEM"}},
		},
	}
}

func TestDeriveApprovalPolicy(t *testing.T) {
	policy := deriveApprovalPolicy(approvalFixture(), StageDeploy)

	if !policy.Enabled {
		t.Fatal("expected approval policy to be enabled")
	}
	if policy.RequiredCount != 2 {
		t.Errorf("RequiredCount = %d, want 2", policy.RequiredCount)
	}

	wantEmails := []string{"Adam@example.com", "bob@example.com", "carol@example.com", "zoe@example.com"}
	if !reflect.DeepEqual(policy.ApproverEmails, wantEmails) {
		t.Errorf("ApproverEmails = %v, want %v", policy.ApproverEmails, wantEmails)
	}
	wantTokens := []string{"ci-bot", "release-bot"}
	if !reflect.DeepEqual(policy.ApproverAPITokens, wantTokens) {
		t.Errorf("ApproverAPITokens = %v, want %v", policy.ApproverAPITokens, wantTokens)
	}

	if _, ok := policy.Approvers["system"]; ok {
		t.Error("system identity must not be an approver")
	}
	if e := policy.Approvers["release-bot"]; !e.APIToken || !e.SpecificUser {
		t.Errorf("release-bot eligibility = %+v", e)
	}
	if e := policy.Approvers["zoe@example.com"]; !reflect.DeepEqual(e.Groups, []string{"qa"}) || e.SpecificUser {
		t.Errorf("zoe eligibility = %+v", e)
	}

	qa, ok := policy.Groups["qa"]
	if !ok {
		t.Fatal("expected qa group requirement")
	}
	if qa.Name != "QA" || qa.RequiredCount != 1 {
		t.Errorf("qa group = %+v", qa)
	}
	if !reflect.DeepEqual(qa.Emails, []string{"carol@example.com", "zoe@example.com"}) {
		t.Errorf("qa members = %v", qa.Emails)
	}
	if !reflect.DeepEqual(policy.SpecificUsers.Emails, []string{"bob@example.com"}) ||
		!reflect.DeepEqual(policy.SpecificUsers.APITokens, []string{"release-bot"}) {
		t.Errorf("specific users = %+v", policy.SpecificUsers)
	}
}

func TestDeriveApprovalPolicyOutsideDeploy(t *testing.T) {
	for _, stage := range []Stage{StagePre, StagePost} {
		policy := deriveApprovalPolicy(approvalFixture(), stage)
		if policy.Enabled || len(policy.Approvers) != 0 {
			t.Errorf("%s: approval policy should be empty, got %+v", stage, policy)
		}
	}
}

func TestDeriveApproval(t *testing.T) {
	policy := deriveApprovalPolicy(approvalFixture(), StageDeploy)
	qa := []RawUserGroupRef{{Identifier: "qa", Name: "QA"}}

	tests := []struct {
		name           string
		approved       []RawApprovalUser
		canApproverDep bool
		wantApproved   bool
		wantDeployable bool
		wantCount      int
	}{
		{
			name:           "no approvals",
			wantApproved:   false,
			wantDeployable: false,
		},
		{
			name: "count met but no specific user",
			approved: []RawApprovalUser{
				{UserID: 1, UserEmail: "zoe@example.com", UserGroups: qa},
				{UserID: 2, UserEmail: "Adam@example.com"},
			},
			wantCount: 2,
		},
		{
			name: "all requirements met",
			approved: []RawApprovalUser{
				{UserID: 1, UserEmail: "zoe@example.com", UserGroups: qa},
				{UserID: 3, UserEmail: "bob@example.com"},
			},
			wantApproved:   true,
			wantDeployable: true,
			wantCount:      2,
		},
		{
			name: "cancelled responses do not count",
			approved: []RawApprovalUser{
				{UserID: 1, UserEmail: "zoe@example.com", UserGroups: qa},
				{UserID: 3, UserEmail: "bob@example.com", UserResponse: 1},
			},
			wantCount: 1,
		},
		{
			name: "approver cannot deploy own approval",
			approved: []RawApprovalUser{
				{UserID: 7, UserEmail: "zoe@example.com", UserGroups: qa},
				{UserID: 3, UserEmail: "API-TOKEN:release-bot"},
			},
			wantApproved:   true,
			wantDeployable: false,
			wantCount:      2,
		},
		{
			name: "approver may deploy when allowed",
			approved: []RawApprovalUser{
				{UserID: 7, UserEmail: "zoe@example.com", UserGroups: qa},
				{UserID: 3, UserEmail: "API-TOKEN:release-bot"},
			},
			canApproverDep: true,
			wantApproved:   true,
			wantDeployable: true,
			wantCount:      2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := policy
			p.CanApproverDeploy = tt.canApproverDep
			info := deriveApproval(&RawApprovalMetadata{
				ApprovalRuntimeState: 1,
				ApprovedUsersData:    tt.approved,
				RequestedUserData:    &RawApprovalUser{UserID: 9, UserEmail: "requester@example.com"},
			}, p, 7)

			if info.Approved != tt.wantApproved {
				t.Errorf("Approved = %v, want %v", info.Approved, tt.wantApproved)
			}
			if info.Deployable != tt.wantDeployable {
				t.Errorf("Deployable = %v, want %v", info.Deployable, tt.wantDeployable)
			}
			if info.ApprovalCount != tt.wantCount {
				t.Errorf("ApprovalCount = %d, want %d", info.ApprovalCount, tt.wantCount)
			}
			if info.RuntimeState != ApprovalRequested {
				t.Errorf("RuntimeState = %s, want REQUESTED", info.RuntimeState)
			}
			if info.RequestedBy != "requester@example.com" {
				t.Errorf("RequestedBy = %q", info.RequestedBy)
			}
		})
	}
}

func TestDeriveApprovalDefaults(t *testing.T) {
	info := deriveApproval(nil, emptyApprovalPolicy(), 0)
	if info.RuntimeState != ApprovalInit {
		t.Errorf("RuntimeState = %s, want INIT", info.RuntimeState)
	}
	if info.ApprovedBy == nil || info.ApprovedByAPITokens == nil || info.GroupApprovals == nil {
		t.Error("expected allocated approver collections")
	}
	if !info.Approved || !info.Deployable {
		t.Error("artifacts are approved when the policy is disabled")
	}
}

func TestDerivePromotion(t *testing.T) {
	if derivePromotion(nil) != nil {
		t.Error("expected nil promotion for absent metadata")
	}

	info := derivePromotion(&RawPromotionMetadata{
		ApprovalRuntimeState: 2,
		PromotedFrom:         "staging",
		PromotedFromType:     "ENVIRONMENT",
		PromotedOn:           "2024-01-02T15:04:05Z",
		ApprovedUsersData: []RawApprovalUser{
			{UserEmail: "system"},
			{UserEmail: "b@example.com"},
			{UserEmail: "API-TOKEN:deployer"},
			{UserEmail: "A@example.com"},
		},
	})
	if info.RuntimeState != ApprovalApproved {
		t.Errorf("RuntimeState = %s, want APPROVED", info.RuntimeState)
	}
	if !reflect.DeepEqual(info.ApprovedBy, []string{"A@example.com", "b@example.com"}) {
		t.Errorf("ApprovedBy = %v", info.ApprovedBy)
	}
	if !reflect.DeepEqual(info.ApprovedByAPITokens, []string{"deployer"}) {
		t.Errorf("ApprovedByAPITokens = %v", info.ApprovedByAPITokens)
	}
	if info.PromotedOn != "Tue, 02 Jan 2024, 03:04 PM" {
		t.Errorf("PromotedOn = %q", info.PromotedOn)
	}
}

func TestSortIdentitiesIsStable(t *testing.T) {
	ids := []string{"b@x", "B@x", "a@x", "A@x"}
	got := sortIdentities(ids)
	want := []string{"a@x", "A@x", "b@x", "B@x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("sortIdentities = %v, want %v", got, want)
	}
}
