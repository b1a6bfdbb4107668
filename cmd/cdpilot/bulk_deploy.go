package main

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"

	"github.com/daimoniac/cdpilot/internal/bulk"
	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/daimoniac/cdpilot/internal/notify"
	"github.com/daimoniac/cdpilot/internal/service"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

func newBulkDeployCmd(a *app) *cobra.Command {
	var (
		envID    int
		envName  string
		stage    string
		tag      string
		appSpecs []string
		strategy string
		params   []string
		explain  bool
		yes      bool
		dryRun   bool
		listTags bool

		imageSpecs []string
	)

	cmd := &cobra.Command{
		Use:   "bulk-deploy",
		Short: "Deploy one tag to many applications",
		Long: `Loads the images of every application, selects the image carrying --tag
in each of them and triggers the deployments.

Applications are given as --app <appId>:<appName>:<pipelineId>. The tags
"@latest" and "@active" select the newest and the currently running image;
any other value, "latest" included, is matched against image and release tags.
--image <appId>:<tag> deploys a different tag to one app; its images are
searched when the tag is not on the first page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := material.ParseStage(stage)
			if !ok {
				return fmt.Errorf("unknown stage %q (use PRE, DEPLOY or POST)", stage)
			}
			apps, err := parseApps(appSpecs)
			if err != nil {
				return err
			}
			runtimeParams, err := parseRuntimeParams(params)
			if err != nil {
				return err
			}
			pins, err := parsePins(imageSpecs, apps)
			if err != nil {
				return err
			}

			target := bulk.Target{Stage: st, EnvID: envID, EnvName: envName}
			orch, err := a.orchestrator(target, explain || a.cfg.Policy.ExplainFilters)
			if err != nil {
				return err
			}

			session := bulk.NewSession(cmd.Context(), orch)
			defer session.Close()

			session.Select(target, apps)
			if _, err := session.Wait(cmd.Context()); err != nil {
				return err
			}

			if listTags {
				for _, t := range bulk.TagOptions(session.State().Result) {
					fmt.Fprintln(a.out, t)
				}
				return nil
			}

			m := orch.ApplyTag(cmd.Context(), session.State().Result, tag)
			for _, p := range pins {
				if m, err = orch.PinImage(cmd.Context(), m, p.appID, p.tag); err != nil {
					return a.fail(err)
				}
			}
			for _, id := range m.AppIDs() {
				if strategy != "" {
					m = bulk.SetStrategy(m, id, strategy)
				}
				if len(runtimeParams) > 0 {
					m = bulk.SetRuntimeParams(m, id, runtimeParams)
				}
			}
			session.Apply(func(bulk.AppInfoMap) bulk.AppInfoMap { return m })

			hint := ""
			for _, info := range m.Sorted() {
				if info.Err != nil {
					a.notices.Show(info.Err, notify.DefaultOptions())
					if h := retryHint(info.Err); h != "" {
						hint = h
					}
				}
			}
			if hint != "" {
				fmt.Fprintln(a.out, hint)
			}

			fmt.Fprintln(a.out, selectionTable(m))
			fmt.Fprintf(a.out, "\n%d of %d apps have a warning\n", bulk.WarningCount(m), len(m))

			action := bulk.ActionState(m)
			if action.Blocked {
				return fmt.Errorf("no application can be deployed")
			}
			if len(action.SkippedApps) > 0 {
				fmt.Fprintln(a.out, "\nThese apps will be skipped:")
				for _, s := range action.SkippedApps {
					fmt.Fprintf(a.out, "  %s: %s\n", s.AppName, s.Reason)
				}
			}
			if dryRun {
				return nil
			}
			if action.RequiresConfirmation() && !yes {
				return fmt.Errorf("some apps cannot be deployed, re-run with --yes to deploy the rest")
			}

			report := orch.Trigger(cmd.Context(), m)
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, report.Table())

			store, err := a.history()
			if err != nil {
				return err
			}
			if store != nil {
				if err := store.RecordBatch(cmd.Context(), report.BatchRecord(tag, currentUser())); err != nil {
					return fmt.Errorf("failed to record trigger batch: %w", err)
				}
				fmt.Fprintf(a.out, "\nrecorded as batch %s\n", report.ID)
			}

			if n := report.Counts()[bulk.StatusFailed]; n > 0 {
				return fmt.Errorf("%d deployments failed", n)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&envID, "env-id", 0, "target environment id")
	cmd.Flags().StringVar(&envName, "env-name", "", "target environment name, recorded in history")
	cmd.Flags().StringVar(&stage, "stage", string(material.StageDeploy), "pipeline stage: PRE, DEPLOY or POST")
	cmd.Flags().StringVar(&tag, "tag", bulk.TagLatest, `image or release tag to deploy, or "@latest" / "@active"`)
	cmd.Flags().StringArrayVar(&appSpecs, "app", nil, "application as appId:appName:pipelineId (repeatable)")
	cmd.Flags().StringArrayVar(&imageSpecs, "image", nil, "deploy this image tag to one app instead of --tag, as appId:tag (repeatable)")
	cmd.Flags().BoolVar(&listTags, "list-tags", false, "list the tags found across the apps and exit")
	cmd.Flags().StringVar(&strategy, "strategy", "", "deployment strategy for every app")
	cmd.Flags().StringArrayVar(&params, "runtime-param", nil, "runtime parameter as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&explain, "explain-filters", false, "name the resource filters that block an image")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "deploy even if some apps will be skipped")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show the selection without triggering")
	_ = cmd.MarkFlagRequired("env-id")
	_ = cmd.MarkFlagRequired("app")

	return cmd
}

func selectionTable(m bulk.AppInfoMap) string {
	output := []string{strings.Join([]string{"APP", "IMAGE", "WINDOW", "WARNING"}, "|")}
	for _, info := range m.Sorted() {
		image := "-"
		if selected, ok := info.Selected(); ok {
			image = selected.Image
		}
		warning := info.Warning
		if info.Err != nil {
			warning = "failed to load images"
		}
		row := []string{info.App.Name, image, string(info.Window.UserActionState), warning}
		output = append(output, strings.Join(row, "|"))
	}
	return columnize.SimpleFormat(output)
}

// parseApps reads appId:appName:pipelineId specs
func parseApps(specs []string) ([]bulk.App, error) {
	apps := make([]bulk.App, 0, len(specs))
	seen := make(map[int]struct{}, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid app %q, expected appId:appName:pipelineId", spec)
		}
		id, err := strconv.Atoi(parts[0])
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid app id in %q", spec)
		}
		pipelineID, err := strconv.Atoi(parts[2])
		if err != nil || pipelineID <= 0 {
			return nil, fmt.Errorf("invalid pipeline id in %q", spec)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("app %d given more than once", id)
		}
		seen[id] = struct{}{}
		apps = append(apps, bulk.App{ID: id, Name: parts[1], PipelineID: pipelineID})
	}
	return apps, nil
}

type pin struct {
	appID int
	tag   string
}

// parsePins reads appId:tag specs for apps that are part of the deployment
func parsePins(specs []string, apps []bulk.App) ([]pin, error) {
	known := make(map[int]struct{}, len(apps))
	for _, app := range apps {
		known[app.ID] = struct{}{}
	}
	pins := make([]pin, 0, len(specs))
	for _, spec := range specs {
		id, tag, ok := strings.Cut(spec, ":")
		if !ok || tag == "" {
			return nil, fmt.Errorf("invalid image %q, expected appId:tag", spec)
		}
		appID, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("invalid app id in %q", spec)
		}
		if _, ok := known[appID]; !ok {
			return nil, fmt.Errorf("image %q names app %d which is not given with --app", spec, appID)
		}
		pins = append(pins, pin{appID: appID, tag: tag})
	}
	return pins, nil
}

// parseRuntimeParams reads KEY=VALUE pairs
func parseRuntimeParams(pairs []string) ([]service.RuntimeParam, error) {
	params := make([]service.RuntimeParam, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid runtime parameter %q, expected KEY=VALUE", pair)
		}
		params = append(params, service.RuntimeParam{Key: key, Value: value})
	}
	return params, nil
}

func currentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
