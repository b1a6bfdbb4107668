package material

import (
	"slices"
	"sort"
	"strings"
)

// approvalResponseApproved is the userResponse value of a granted approval
const approvalResponseApproved = 0

// runtimeState maps the numeric approval state onto its name
func runtimeState(v int) ApprovalRuntimeState {
	switch v {
	case 1:
		return ApprovalRequested
	case 2:
		return ApprovalApproved
	case 3:
		return ApprovalConsumed
	}
	return ApprovalInit
}

// emptyApprovalPolicy is the disabled policy with every collection allocated
func emptyApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		SpecificUsers: SpecificUsersRequirement{
			Emails:    []string{},
			APITokens: []string{},
		},
		Groups:            map[string]GroupRequirement{},
		Approvers:         map[string]ApproverEligibility{},
		ApproverEmails:    []string{},
		ApproverAPITokens: []string{},
	}
}

// deriveApprovalPolicy builds the approval policy and the per user and per
// group eligibility maps. Only the DEPLOY stage carries approvals.
func deriveApprovalPolicy(raw *RawCDMaterialsResult, stage Stage) ApprovalPolicy {
	policy := emptyApprovalPolicy()
	if raw == nil {
		return policy
	}
	policy.CanApproverDeploy = raw.CanApproverDeploy
	if stage != StageDeploy || raw.UserApprovalConfig == nil {
		return policy
	}

	cfg := raw.UserApprovalConfig
	policy.Type = cfg.Type
	policy.RequiredCount = cfg.RequiredCount

	eligibility := map[string]*ApproverEligibility{}
	note := func(identity string) *ApproverEligibility {
		name, token := splitIdentity(identity)
		if e, ok := eligibility[name]; ok {
			return e
		}
		e := &ApproverEligibility{Identity: name, APIToken: token, Groups: []string{}}
		eligibility[name] = e
		return e
	}

	for _, id := range raw.ApprovalUsers {
		if visibleIdentity(id) {
			note(id)
		}
	}

	if cfg.SpecificUsers != nil {
		policy.SpecificUsers.RequiredCount = cfg.SpecificUsers.RequiredCount
		policy.SpecificUsers.Emails, policy.SpecificUsers.APITokens = splitIdentities(cfg.SpecificUsers.Identifiers)
		for _, id := range cfg.SpecificUsers.Identifiers {
			if visibleIdentity(id) {
				note(id).SpecificUser = true
			}
		}
	}

	members := make(map[string]RawApproverGroup, len(raw.ApproverGroups))
	for _, g := range raw.ApproverGroups {
		members[g.Identifier] = g
	}
	for _, req := range cfg.UserGroups {
		if req.Identifier == "" {
			continue
		}
		group := members[req.Identifier]
		emails, tokens := splitIdentities(group.Members)
		policy.Groups[req.Identifier] = GroupRequirement{
			Identifier:    req.Identifier,
			Name:          group.Name,
			RequiredCount: req.RequiredCount,
			Emails:        emails,
			APITokens:     tokens,
		}
		for _, id := range group.Members {
			if !visibleIdentity(id) {
				continue
			}
			e := note(id)
			if !slices.Contains(e.Groups, req.Identifier) {
				e.Groups = append(e.Groups, req.Identifier)
			}
		}
	}

	policy.Enabled = policy.RequiredCount > 0 || policy.SpecificUsers.RequiredCount > 0
	for _, g := range policy.Groups {
		if g.RequiredCount > 0 {
			policy.Enabled = true
		}
	}

	names := make([]string, 0, len(eligibility))
	for name := range eligibility {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := eligibility[name]
		sort.Strings(e.Groups)
		policy.Approvers[name] = *e
		if e.APIToken {
			policy.ApproverAPITokens = append(policy.ApproverAPITokens, name)
		} else {
			policy.ApproverEmails = append(policy.ApproverEmails, name)
		}
	}
	sortIdentities(policy.ApproverEmails)
	sortIdentities(policy.ApproverAPITokens)

	return policy
}

// deriveApproval computes the approval state of one artifact against policy
func deriveApproval(raw *RawApprovalMetadata, policy ApprovalPolicy, currentUserID int) *ApprovalInfo {
	info := &ApprovalInfo{
		RuntimeState:        ApprovalInit,
		ApprovedBy:          []string{},
		ApprovedByAPITokens: []string{},
		GroupApprovals:      make(map[string][]string, len(policy.Groups)),
	}
	for id := range policy.Groups {
		info.GroupApprovals[id] = []string{}
	}

	var approvers []string
	if raw != nil {
		info.RequestID = raw.ApprovalRequestID
		info.RuntimeState = runtimeState(raw.ApprovalRuntimeState)
		if raw.RequestedUserData != nil {
			info.RequestedBy = raw.RequestedUserData.UserEmail
			info.RequestedByUserID = raw.RequestedUserData.UserID
		}

		for _, u := range raw.ApprovedUsersData {
			if u.UserResponse != approvalResponseApproved {
				continue
			}
			info.ApprovalCount++
			if currentUserID != 0 && u.UserID == currentUserID {
				info.CurrentUserApproved = true
			}
			if !visibleIdentity(u.UserEmail) {
				continue
			}
			approvers = append(approvers, u.UserEmail)
			name, _ := splitIdentity(u.UserEmail)
			for _, g := range u.UserGroups {
				if _, tracked := info.GroupApprovals[g.Identifier]; tracked {
					info.GroupApprovals[g.Identifier] = append(info.GroupApprovals[g.Identifier], name)
				}
			}
		}
	}

	info.ApprovedBy, info.ApprovedByAPITokens = splitIdentities(approvers)
	for id, names := range info.GroupApprovals {
		info.GroupApprovals[id] = sortIdentities(dedupe(names))
	}

	info.Approved = approvalSatisfied(info, policy)
	info.Deployable = info.Approved && (policy.CanApproverDeploy || !info.CurrentUserApproved)
	return info
}

// approvalSatisfied checks the overall, specific user and group counts
func approvalSatisfied(info *ApprovalInfo, policy ApprovalPolicy) bool {
	if !policy.Enabled {
		return true
	}
	if info.ApprovalCount < policy.RequiredCount {
		return false
	}

	if policy.SpecificUsers.RequiredCount > 0 {
		named := 0
		for _, id := range append(append([]string{}, info.ApprovedBy...), info.ApprovedByAPITokens...) {
			if e, ok := policy.Approvers[id]; ok && e.SpecificUser {
				named++
			}
		}
		if named < policy.SpecificUsers.RequiredCount {
			return false
		}
	}

	for id, g := range policy.Groups {
		if len(info.GroupApprovals[id]) < g.RequiredCount {
			return false
		}
	}
	return true
}

// derivePromotion computes the promotion state of one artifact
func derivePromotion(raw *RawPromotionMetadata) *PromotionInfo {
	if raw == nil {
		return nil
	}
	info := &PromotionInfo{
		RuntimeState:     runtimeState(raw.ApprovalRuntimeState),
		PromotedFrom:     raw.PromotedFrom,
		PromotedFromType: raw.PromotedFromType,
		PromotedOn:       formatTime(raw.PromotedOn),
	}
	if raw.RequestedUserData != nil {
		info.RequestedBy = raw.RequestedUserData.UserEmail
	}
	var approvers []string
	for _, u := range raw.ApprovedUsersData {
		if u.UserResponse == approvalResponseApproved && visibleIdentity(u.UserEmail) {
			approvers = append(approvers, u.UserEmail)
		}
	}
	info.ApprovedBy, info.ApprovedByAPITokens = splitIdentities(approvers)
	return info
}

// splitIdentity strips the API token prefix and reports whether it was there
func splitIdentity(identity string) (string, bool) {
	identity = strings.TrimSpace(identity)
	if strings.HasPrefix(identity, APITokenPrefix) {
		return strings.TrimPrefix(identity, APITokenPrefix), true
	}
	return identity, false
}

// splitIdentities separates human emails from API token names. The system
// identity and blanks are dropped; both lists are sorted and free of
// duplicates.
func splitIdentities(ids []string) ([]string, []string) {
	emails := []string{}
	tokens := []string{}
	for _, id := range ids {
		if !visibleIdentity(id) {
			continue
		}
		name, token := splitIdentity(id)
		if token {
			tokens = append(tokens, name)
		} else {
			emails = append(emails, name)
		}
	}
	return sortIdentities(dedupe(emails)), sortIdentities(dedupe(tokens))
}

func visibleIdentity(id string) bool {
	name, _ := splitIdentity(id)
	return name != "" && !strings.EqualFold(name, SystemIdentity)
}

// sortIdentities orders case-insensitively, keeping the input order of
// entries that compare equal
func sortIdentities(ids []string) []string {
	sort.SliceStable(ids, func(i, j int) bool {
		return strings.ToLower(ids[i]) < strings.ToLower(ids[j])
	})
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
