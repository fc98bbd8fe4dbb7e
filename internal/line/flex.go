package line

import (
	"fmt"
	"time"

	"taskline/backend/internal/model"
)

const flexMaxRows = 20

func formatYYMMDD(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("06/01/02")
}

// BuildTasksFlex renders the task list bubble: name / schedule / expiry
// / plan per row, disabled rows grayed out, capped at flexMaxRows.
func BuildTasksFlex(tasks []model.Task) Message {
	contents := []any{
		map[string]any{"type": "text", "text": fmt.Sprintf("%d 件", len(tasks)), "size": "sm", "color": "#666666"},
		map[string]any{"type": "separator", "margin": "md"},
		map[string]any{
			"type": "box", "layout": "horizontal", "spacing": "sm", "margin": "sm",
			"contents": []any{
				map[string]any{"type": "text", "text": "タスク名", "size": "xxs", "weight": "bold", "flex": 6, "align": "center", "color": "#111111"},
				map[string]any{"type": "text", "text": "実行時間", "size": "xxs", "weight": "bold", "flex": 3, "align": "center", "color": "#111111"},
				map[string]any{"type": "text", "text": "期限", "size": "xxs", "weight": "bold", "flex": 3, "align": "center", "color": "#111111"},
				map[string]any{"type": "text", "text": "プラン", "size": "xxs", "weight": "bold", "flex": 2, "align": "center", "color": "#111111"},
			},
		},
		map[string]any{"type": "separator", "margin": "sm"},
	}

	if len(tasks) == 0 {
		contents = append(contents, map[string]any{
			"type": "text", "text": "タスクがありません。", "size": "sm", "color": "#666666", "margin": "md", "wrap": true,
		})
	}

	shown := tasks
	if len(shown) > flexMaxRows {
		shown = shown[:flexMaxRows]
	}
	for _, t := range shown {
		rowColor := "#222222"
		planColor := "#1A7F37"
		suffix := ""
		if !t.Enabled {
			rowColor = "#AAAAAA"
			planColor = "#AAAAAA"
			suffix = "（disabled）"
		} else if t.PlanTag == model.PlanTagPaid {
			planColor = "#B42318"
		}

		schedule := t.ScheduleValue
		if schedule == "" {
			schedule = "-"
		}

		contents = append(contents, map[string]any{
			"type": "box", "layout": "horizontal", "spacing": "sm", "margin": "sm",
			"contents": []any{
				map[string]any{"type": "text", "text": t.Name + suffix, "size": "xxs", "wrap": true, "flex": 6, "color": rowColor},
				map[string]any{"type": "text", "text": schedule, "size": "xxs", "flex": 3, "align": "center", "color": rowColor},
				map[string]any{"type": "text", "text": formatYYMMDD(t.ExpiresAt), "size": "xxs", "flex": 3, "align": "center", "color": rowColor},
				map[string]any{"type": "text", "text": string(t.PlanTag), "size": "xxs", "flex": 2, "align": "center", "color": planColor},
			},
		})
	}

	if len(tasks) > flexMaxRows {
		contents = append(contents,
			map[string]any{"type": "separator", "margin": "md"},
			map[string]any{"type": "text", "text": fmt.Sprintf("※ 表示は先頭%d件まで（全 %d 件）", flexMaxRows, len(tasks)), "size": "xs", "color": "#666666", "wrap": true, "margin": "sm"},
		)
	}

	return Message{
		"type":    "flex",
		"altText": fmt.Sprintf("実行中のタスク（%d件）", len(tasks)),
		"contents": map[string]any{
			"type":   "bubble",
			"styles": map[string]any{"body": map[string]any{"backgroundColor": "#FFFFFF"}},
			"body":   map[string]any{"type": "box", "layout": "vertical", "spacing": "sm", "contents": contents},
		},
	}
}

// BuildTaskDetailFlex renders one task as a key/value bubble.
func BuildTaskDetailFlex(t model.Task) Message {
	row := func(label, value string) map[string]any {
		if value == "" {
			value = "-"
		}
		return map[string]any{
			"type": "box", "layout": "horizontal", "spacing": "sm", "margin": "sm",
			"contents": []any{
				map[string]any{"type": "text", "text": label, "size": "xs", "flex": 3, "color": "#666666"},
				map[string]any{"type": "text", "text": value, "size": "xs", "flex": 7, "wrap": true, "color": "#222222"},
			},
		}
	}

	status := "有効"
	if !t.Enabled {
		status = "無効"
	}

	contents := []any{
		map[string]any{"type": "text", "text": t.Name, "size": "md", "weight": "bold", "wrap": true},
		map[string]any{"type": "separator", "margin": "md"},
		row("状態", status),
		row("実行時間", t.ScheduleValue),
		row("実行PC", t.PCName),
		row("プラン", string(t.PlanTag)),
		row("期限", formatYYMMDD(t.ExpiresAt)),
		row("支払日", formatYYMMDD(t.PaymentDate)),
		row("支払額", t.PaymentAmount),
	}

	return Message{
		"type":    "flex",
		"altText": "タスク詳細: " + t.Name,
		"contents": map[string]any{
			"type": "bubble",
			"body": map[string]any{"type": "box", "layout": "vertical", "spacing": "sm", "contents": contents},
		},
	}
}
