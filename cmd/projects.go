package cmd

import (
	"fmt"
	"sort"
	"time"

	"LongVideoAssistant/localstore"
	"LongVideoAssistant/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var statusLabels = map[string]string{
	models.ProjectStatusDraft:      "草稿",
	models.ProjectStatusInProgress: "进行中",
	models.ProjectStatusCompleted:  "已完成",
	models.ProjectStatusArchived:   "已归档",
}

func newProjectsCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "列出本地项目（工作台运行时无法打开数据目录）",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			store, err := localstore.Open(cfg.Studio.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()
			projects, err := store.AllProjects(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderProjects(projects, all))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "包含已归档项目")
	return cmd
}

// renderProjects 按更新时间倒序输出表格
func renderProjects(projects []models.Project, includeArchived bool) string {
	sort.SliceStable(projects, func(i, j int) bool { return projects[i].UpdatedAt > projects[j].UpdatedAt })

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "标题", "状态", "音频", "更新时间"})
	for _, p := range projects {
		if p.Status == models.ProjectStatusArchived && !includeArchived {
			continue
		}
		label, ok := statusLabels[p.Status]
		if !ok {
			label = p.Status
		}
		audio := "-"
		if p.AudioFile != "" {
			audio = "✓"
		}
		tw.AppendRow(table.Row{p.ID, p.Title, label, audio, time.UnixMilli(p.UpdatedAt).Local().Format("2006-01-02 15:04")})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignCenter},
		{Number: 5, Align: text.AlignRight},
	})
	return tw.Render()
}
