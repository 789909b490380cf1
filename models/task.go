package models

import "strings"

// 画布上的任务节点
const (
	TaskScript    = "script"
	TaskTitles    = "titles"
	TaskSummary   = "summary"
	TaskCover     = "cover"
	TaskAudioFile = "audio_file"
	TaskInput     = "input"
)

// FanOutTasks 一键生成同时启动的下游任务
var FanOutTasks = []string{TaskTitles, TaskSummary, TaskCover}

type TaskSpec struct {
	ID string
	// Executable 为 false 的节点只作为数据源存在
	Executable bool
	// AI 为 false 的节点不经过大模型（音频走上传）
	AI bool
	// Prompt 该任务使用的模板
	Prompt PromptKey
	// DependsOn 前置条件，未满足时返回提示文案
	DependsOn func(p Project) (ok bool, msg string)
}

func needInputs(p Project) (bool, string) {
	if strings.TrimSpace(p.Inputs.Topic) == "" {
		return false, "请先填写视频主题"
	}
	return true, ""
}

func needScript(p Project) (bool, string) {
	if strings.TrimSpace(p.Script) == "" {
		return false, "请先生成视频文案"
	}
	return true, ""
}

func noDependency(Project) (bool, string) { return true, "" }

var taskSpecs = map[string]TaskSpec{
	TaskScript:    {ID: TaskScript, Executable: true, AI: true, Prompt: PromptScript, DependsOn: needInputs},
	TaskTitles:    {ID: TaskTitles, Executable: true, AI: true, Prompt: PromptTitles, DependsOn: needScript},
	TaskSummary:   {ID: TaskSummary, Executable: true, AI: true, Prompt: PromptSummary, DependsOn: needScript},
	TaskCover:     {ID: TaskCover, Executable: true, AI: true, Prompt: PromptCoverGen, DependsOn: needScript},
	TaskAudioFile: {ID: TaskAudioFile, Executable: true, DependsOn: noDependency},
	TaskInput:     {ID: TaskInput, DependsOn: noDependency},
}

// LookupTask 返回任务定义，未知 id 返回 false
func LookupTask(id string) (TaskSpec, bool) {
	s, ok := taskSpecs[id]
	return s, ok
}
