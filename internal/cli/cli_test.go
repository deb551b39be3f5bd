package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/paiban/examplan/pkg/errors"
	"github.com/paiban/examplan/pkg/model"
	"github.com/paiban/examplan/pkg/scheduler/window"
)

const rosterJSON = `{
  "candidates": [
    {"id": "c1", "name": "考生一", "department": "内科", "group": "none"},
    {"id": "c2", "name": "考生二", "department": "内科", "group": "none"}
  ],
  "examiners": [
    {"id": "p1", "name": "内科甲", "department": "内科", "group": "none"},
    {"id": "p2", "name": "内科乙", "department": "内科", "group": "none"},
    {"id": "s1", "name": "外科甲", "department": "外科", "group": "none"},
    {"id": "s2", "name": "外科乙", "department": "外科", "group": "none"}
  ],
  "date_range": {"start_date": "2025-09-08", "end_date": "2025-09-12"}
}`

// execute 运行命令并返回标准输出
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRotationCmd(t *testing.T) {
	out, err := execute(t, "", "rotation", "--start", "2025-09-08", "--end", "2025-09-11")
	require.NoError(t, err)

	var rows []rotationRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, "B", rows[0].DayShiftGroup)
	assert.Equal(t, "A", rows[3].DayShiftGroup)

	out, err = execute(t, "", "rotation", "--start", "20250908", "--group", "B", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-09-08")
	assert.Contains(t, out, string(model.StatusDayShift))
}

func TestRotationCmdErrors(t *testing.T) {
	_, err := execute(t, "", "rotation", "--start", "abc")
	assert.Error(t, err)

	_, err = execute(t, "", "rotation", "--start", "2025-09-11", "--end", "2025-09-08")
	assert.Error(t, err)

	_, err = execute(t, "", "rotation", "--start", "2025-09-08", "-o", "xml")
	assert.Error(t, err, "不支持的输出格式")
}

func TestPreCheckCmd(t *testing.T) {
	out, err := execute(t, rosterJSON, "precheck", "-i", "-")
	require.NoError(t, err)

	var report model.FeasibilityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.NotEmpty(t, report.Dates)

	_, err = execute(t, "", "precheck")
	assert.Error(t, err, "缺少输入文件")
}

func TestSelectCmd(t *testing.T) {
	path := writeFile(t, rosterJSON)

	out, err := execute(t, "", "select", "-i", path, "--candidate", "c1")
	require.NoError(t, err)

	var sel window.Selection
	require.NoError(t, json.Unmarshal([]byte(out), &sel))
	assert.True(t, sel.Success)
	require.NotNil(t, sel.SelectedWindow)

	_, err = execute(t, "", "select", "-i", path)
	assert.Error(t, err, "多名考生时必须指定考生")

	_, err = execute(t, "", "select", "-i", path, "--candidate", "missing")
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound), "%v", err)
}

func TestAllocateCmd(t *testing.T) {
	path := writeFile(t, rosterJSON)

	out, err := execute(t, "", "allocate", "-i", path, "--start", "2025-09-08", "--end", "2025-09-10", "--balance")
	require.NoError(t, err)

	var res struct {
		Allocations []*model.Assignment `json:"allocations"`
		Balance     json.RawMessage     `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Len(t, res.Allocations, 2)
	assert.NotEmpty(t, res.Balance)
}

func TestMonitorCmd(t *testing.T) {
	state := `{
  "candidates": [{"id": "c1", "name": "考生一", "department": "内科", "group": "none"}],
  "examiners": [
    {"id": "p1", "name": "内科甲", "department": "内科", "group": "none"},
    {"id": "s1", "name": "外科甲", "department": "外科", "group": "none"}
  ],
  "assignments": [
    {"candidate_id": "c1", "department": "内科", "days": [
      {"date": "2025-09-08", "primary": "p1", "secondary": "s1"},
      {"date": "2025-09-09", "primary": "p1", "secondary": "s1"}
    ]}
  ]
}`

	out, err := execute(t, state, "monitor", "-i", "-", "--from", "2025-09-08", "--horizon", "3")
	require.NoError(t, err)

	var res struct {
		State model.SystemState `json:"system_state"`
		Risks []json.RawMessage `json:"risks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 1, res.State.TotalAssignments)
	assert.Len(t, res.Risks, 3)

	out, err = execute(t, state, "monitor", "-i", "-", "-o", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "资源使用率")

	_, err = execute(t, "", "monitor", "-i", "-", "--watch")
	assert.Error(t, err)
}

func TestKeygenCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`tenants:
  - code: hospital-a
    name: 考点A
    keys: ["k-a"]
    scopes: ["select", "monitor"]
`), 0o600))

	out, err := execute(t, "", "keygen", "-c", path, "--tenant", "hospital-a")
	require.NoError(t, err)

	var key keygenOutput
	require.NoError(t, json.Unmarshal([]byte(out), &key))
	assert.True(t, strings.HasPrefix(key.Key, "ek_"))
	assert.Len(t, key.Key, 35)
	assert.Equal(t, "hospital-a", key.Tenant)
	assert.Equal(t, []string{"select", "monitor"}, key.Scopes)
	assert.Equal(t, "tenants[code=hospital-a].keys", key.ConfigKey)

	again, err := execute(t, "", "keygen", "-c", path, "--tenant", "hospital-a")
	require.NoError(t, err)
	assert.NotEqual(t, out, again, "每次生成的密钥不同")

	out, err = execute(t, "", "keygen", "-o", "text")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ek_"))
	assert.Contains(t, out, "API_KEYS")

	_, err = execute(t, "", "keygen", "--tenant", "hospital-z")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeNotFound))
}
