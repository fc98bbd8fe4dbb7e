package line

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseText(t *testing.T) {
	assert.Equal(t, ShowTasks{}, ParseText("タスク"))
	assert.Equal(t, ShowTasks{}, ParseText(" tasks "))
	assert.Equal(t, ShowTasks{}, ParseText("Task"))

	assert.Equal(t, Rerun{Name: "日次集計"}, ParseText("日次集計 再実行"))
	assert.Equal(t, Rerun{Name: "日次集計"}, ParseText("日次集計再実行"))
	assert.Equal(t, Rerun{Name: "通勤バス　乗車記録"}, ParseText("通勤バス　乗車記録 再実行"))

	// Bare suffix has no task name to act on.
	assert.Equal(t, Unrecognized{Text: "再実行"}, ParseText("再実行"))
	assert.Equal(t, Unrecognized{Text: "こんにちは"}, ParseText("こんにちは"))
	assert.Equal(t, Unrecognized{Text: ""}, ParseText("   "))
}

func TestParsePostback(t *testing.T) {
	assert.Equal(t, ShowDetail{TaskID: "t-1"}, ParsePostback("action=detail&task_id=t-1"))
	assert.Equal(t, Rerun{Name: "日次集計"}, ParsePostback("action=rerun&name=日次集計"))
	assert.Equal(t, AgreeTerms{Version: "2024-01"}, ParsePostback("action=agree&version=2024-01"))
	assert.Equal(t, AgreeTerms{Version: ""}, ParsePostback("action=agree"))

	assert.Equal(t, Unrecognized{Text: "action=detail"}, ParsePostback("action=detail"))
	assert.Equal(t, Unrecognized{Text: "action=unknown"}, ParsePostback("action=unknown"))
	assert.Equal(t, Unrecognized{Text: "%zz"}, ParsePostback("%zz"))
}
