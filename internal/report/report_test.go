package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kapsel/internal/model"
)

func sampleResult() *model.PrepareResult {
	reports := []model.RequirementReport{
		{
			Key:      "API_URL",
			State:    model.StateSatisfied,
			Provider: "project-default",
			Status:   model.Satisfied("https://api.example.com"),
			Attempts: []model.Attempt{
				{Provider: "local-override", Status: model.Failed("no saved value", false)},
				{Provider: "project-default", Status: model.Satisfied("https://api.example.com")},
			},
		},
		{
			Key:       "DB_PASSWORD",
			State:     model.StateSatisfied,
			Provider:  "prompt",
			Sensitive: true,
			Status:    model.Satisfied("hunter2").Redacted().WithWarning("DB_PASSWORD keeps the value set by the override source"),
		},
		{Key: "REDIS_URL", State: model.StateFailed, Status: model.PermanentFailure("REDIS_URL is not set")},
	}
	env := map[string]string{"API_URL": "https://api.example.com", "DB_PASSWORD": "hunter2"}
	return model.NewPrepareResult("0123456789abcdef", "interactive", reports, env, []string{"API_URL: satisfied by project-default"})
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult(), Options{}))
	out := buf.String()

	require.Contains(t, out, "kapsel interactive run 01234567")
	require.Contains(t, out, "2/3 met")
	require.Contains(t, out, "API_URL")
	require.Contains(t, out, "[project-default]")
	require.Contains(t, out, "REDIS_URL is not set")
	require.Contains(t, out, "Unresolved: REDIS_URL")
	require.Contains(t, out, "keeps the value set by the override source")
	require.NotContains(t, out, "hunter2")
	require.NotContains(t, out, "local-override")
}

func TestWriteTextVerbose(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleResult(), Options{Verbose: true}))
	out := buf.String()

	require.Contains(t, out, "local-override: failed: no saved value")
	require.Contains(t, out, "API_URL: satisfied by project-default")
}

func TestWriteTextRejectsNil(t *testing.T) {
	t.Parallel()
	require.Error(t, WriteText(&bytes.Buffer{}, nil, Options{}))
}

func TestWriteJSONOmitsEnvironment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleResult()))
	require.NotContains(t, buf.String(), "hunter2")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, false, decoded["success"])
	require.Equal(t, []any{"REDIS_URL"}, decoded["unresolved"])
	require.NotContains(t, decoded, "env")

	reqs := decoded["requirements"].([]any)
	first := reqs[0].(map[string]any)
	require.Equal(t, "API_URL", first["key"])
	status := first["status"].(map[string]any)
	require.Equal(t, "https://api.example.com", status["value"])
}

func TestWriteEnvFormats(t *testing.T) {
	t.Parallel()

	env := map[string]string{"B": "two words", "A": "plain"}

	var bash bytes.Buffer
	require.NoError(t, WriteEnv(&bash, env, EnvFormatBash))
	require.Equal(t, "export A=plain\nexport B='two words'\n", bash.String())

	var dotenv bytes.Buffer
	require.NoError(t, WriteEnv(&dotenv, env, EnvFormatDotenv))
	require.Equal(t, "A=plain\nB='two words'\n", dotenv.String())

	var js bytes.Buffer
	require.NoError(t, WriteEnv(&js, env, EnvFormatJSON))
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	require.Equal(t, env, decoded)
}

func TestParseEnvFormat(t *testing.T) {
	t.Parallel()

	format, err := ParseEnvFormat("")
	require.NoError(t, err)
	require.Equal(t, EnvFormatBash, format)

	format, err = ParseEnvFormat("DOTENV")
	require.NoError(t, err)
	require.Equal(t, EnvFormatDotenv, format)

	_, err = ParseEnvFormat("fish")
	require.Error(t, err)
}

func TestPrepared(t *testing.T) {
	t.Parallel()

	env := map[string]string{"HOME": "/home/dev", "PATH": "/env/bin:/usr/bin", "API_URL": "x"}
	ambient := map[string]string{"HOME": "/home/dev", "PATH": "/usr/bin"}
	require.Equal(t, map[string]string{"PATH": "/env/bin:/usr/bin", "API_URL": "x"}, Prepared(env, ambient))
}
