package bulk

import (
	"fmt"

	"github.com/daimoniac/cdpilot/internal/service"
)

// SkippedApp is an app that will not be triggered, with the reason
type SkippedApp struct {
	AppID   int
	AppName string
	Reason  string
}

// ActionStatus is the merged deployability of a bulk deployment
type ActionStatus struct {
	// Partial is set when only some apps can be deployed, or a deployment
	// window only partially allows the action
	Partial bool

	// Blocked is set when no app can be deployed
	Blocked bool

	SkippedApps []SkippedApp
}

// RequiresConfirmation reports whether the user must confirm that some apps
// will be skipped before triggering
func (s ActionStatus) RequiresConfirmation() bool {
	return !s.Blocked && (s.Partial || len(s.SkippedApps) > 0)
}

// ActionState merges deployment window and approval constraints of every app
func ActionState(m AppInfoMap) ActionStatus {
	state := ActionStatus{SkippedApps: make([]SkippedApp, 0)}
	for _, info := range m.Sorted() {
		if reason := skipReason(info); reason != "" {
			state.SkippedApps = append(state.SkippedApps, SkippedApp{
				AppID:   info.App.ID,
				AppName: info.App.Name,
				Reason:  reason,
			})
			continue
		}
		if info.Window.UserActionState == service.ActionPartial && !info.Window.IsUserExcluded {
			state.Partial = true
		}
	}

	skipped := len(state.SkippedApps)
	state.Blocked = skipped == len(m)
	if skipped > 0 && !state.Blocked {
		state.Partial = true
	}
	return state
}

// skipReason explains why info cannot be triggered, or returns ""
func skipReason(info AppInfo) string {
	if info.Err != nil {
		return "images could not be loaded"
	}
	if info.Window.UserActionState == service.ActionBlocked && !info.Window.IsUserExcluded {
		if info.Window.WindowName != "" {
			return fmt.Sprintf("blocked by deployment window %s", info.Window.WindowName)
		}
		return "blocked by deployment window"
	}

	selected, ok := info.Selected()
	if !ok {
		return "no image selected"
	}
	if selected.Vulnerable {
		return "selected image has security vulnerabilities"
	}
	if info.Materials.ApprovalPolicy.Enabled && selected.Approval != nil && !selected.Approval.Deployable {
		return "selected image is not approved"
	}
	if len(info.View.RuntimeParamErrors) > 0 {
		return "runtime parameters are invalid"
	}
	return ""
}
