package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daimoniac/cdpilot/internal/material"
	"github.com/daimoniac/cdpilot/internal/policy"
	"github.com/daimoniac/cdpilot/internal/service"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
)

func newMaterialsCmd(a *app) *cobra.Command {
	var (
		pipelineID int
		stage      string
		offset     int
		size       int
		search     string
		eligible   bool
		explain    bool
	)

	cmd := &cobra.Command{
		Use:   "materials",
		Short: "List the images a CD pipeline can deploy",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, ok := material.ParseStage(stage)
			if !ok {
				return fmt.Errorf("unknown stage %q (use PRE, DEPLOY or POST)", stage)
			}
			if size == 0 {
				size = a.cfg.Bulk.PageSize
			}

			q := service.MaterialQuery{
				PipelineID: pipelineID,
				Stage:      st,
				Offset:     offset,
				Size:       size,
				Search:     search,
				FilterView: material.FilterViewAll,
			}
			if eligible {
				q.FilterView = material.FilterViewEligible
			}

			resp, err := a.svc.GetCDMaterialList(cmd.Context(), q)
			if err != nil {
				return a.fail(err)
			}

			fmt.Fprintln(a.out, materialsTable(resp))
			if resp.HasMore() {
				fmt.Fprintf(a.out, "\n%d of %d images shown, next page: --offset %d\n",
					len(resp.Materials), resp.TotalCount, resp.NextOffset)
			}

			if explain || a.cfg.Policy.ExplainFilters {
				return a.explainFilters(cmd, resp)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&pipelineID, "pipeline", 0, "CD pipeline id")
	cmd.Flags().StringVar(&stage, "stage", string(material.StageDeploy), "pipeline stage: PRE, DEPLOY or POST")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of images to skip")
	cmd.Flags().IntVar(&size, "size", 0, "page size (defaults to MATERIAL_PAGE_SIZE)")
	cmd.Flags().StringVar(&search, "search", "", "only images matching this text")
	cmd.Flags().BoolVar(&eligible, "eligible", false, "only images passing the resource filters")
	cmd.Flags().BoolVar(&explain, "explain-filters", false, "evaluate resource filters locally and show why images are blocked")
	_ = cmd.MarkFlagRequired("pipeline")

	return cmd
}

func materialsTable(resp material.CDMaterialResponse) string {
	output := []string{strings.Join([]string{"", "ID", "IMAGE", "DEPLOYED", "FILTER", "SCAN", "APPROVAL", "COMMIT"}, "|")}
	for _, m := range resp.Materials {
		marker := ""
		if m.IsSelected {
			marker = "*"
		}
		commit := material.CommitURLUnavailable
		if len(m.MaterialInfo) > 0 {
			commit = m.MaterialInfo[0].CommitLink
		}
		row := []string{
			marker,
			strconv.Itoa(m.ID),
			m.Image,
			m.DeployedTime,
			string(m.FilterState),
			scanState(m),
			approvalState(resp.ApprovalPolicy, m),
			commit,
		}
		output = append(output, strings.Join(row, "|"))
	}
	return columnize.SimpleFormat(output)
}

func scanState(m material.CDMaterial) string {
	switch {
	case !m.ScanEnabled:
		return "-"
	case !m.Scanned:
		return "pending"
	case m.Vulnerable:
		return "vulnerable"
	}
	return "clean"
}

func approvalState(p material.ApprovalPolicy, m material.CDMaterial) string {
	if !p.Enabled || m.Approval == nil {
		return "-"
	}
	state := fmt.Sprintf("%d/%d", m.Approval.ApprovalCount, p.RequiredCount)
	if m.Approval.Approved {
		state += " approved"
	}
	return state
}

func (a *app) explainFilters(cmd *cobra.Command, resp material.CDMaterialResponse) error {
	if len(resp.ResourceFilters) == 0 {
		fmt.Fprintln(a.out, "\nno resource filters configured")
		return nil
	}

	engine, err := policy.NewEngine(a.logger)
	if err != nil {
		return fmt.Errorf("failed to create filter engine: %w", err)
	}

	output := []string{strings.Join([]string{"IMAGE", "FILTER", "RESULT", "REASON"}, "|")}
	for _, m := range resp.Materials {
		explanation, err := engine.Explain(cmd.Context(), m, resp.ResourceFilters)
		if err != nil {
			return err
		}
		for _, v := range explanation.Verdicts {
			result := "pass"
			if !v.Passed {
				result = "block"
			}
			output = append(output, strings.Join([]string{m.Image, v.FilterName, result, v.Reason}, "|"))
		}
	}
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, columnize.SimpleFormat(output))
	return nil
}
