package commands

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/leapstack-labs/datalens/internal/cli/config"
	clitestutil "github.com/leapstack-labs/datalens/internal/cli/testutil"
	intconfig "github.com/leapstack-labs/datalens/internal/config"
	"github.com/leapstack-labs/datalens/internal/dataset"
	"github.com/leapstack-labs/datalens/internal/journal"
	"github.com/leapstack-labs/datalens/internal/llm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProfileCommand(t *testing.T) {
	cmd := NewProfileCommand()

	assert.Equal(t, "profile <file>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")
}

func TestNewAskCommand(t *testing.T) {
	cmd := NewAskCommand()

	assert.Equal(t, "ask <file> <question>", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotNil(t, cmd.Flags().Lookup("show-code"))
}

func TestNewReplCommand(t *testing.T) {
	cmd := NewReplCommand()

	assert.Equal(t, "repl <file>", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("show-code"))
}

func TestNewServeCommand(t *testing.T) {
	cmd := NewServeCommand("test")

	assert.Equal(t, "serve", cmd.Use)
	for _, flag := range []string{"addr", "upload-dir"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestNewModel_WithoutKeyFails(t *testing.T) {
	model := NewModel(intconfig.LLMConfig{}, slog.New(slog.DiscardHandler))

	_, err := model.Complete(context.Background(), "system", "user")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrModelService)
	assert.Contains(t, err.Error(), "no API key configured")
}

func TestNewModel_WithKey(t *testing.T) {
	model := NewModel(intconfig.LLMConfig{APIKey: "sk-test", Model: "m"}, slog.New(slog.DiscardHandler))
	assert.IsType(t, &llm.Anthropic{}, model)
}

func TestServiceConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Profile.IdentifierTypes = []string{"string", "int64"}

	sc := ServiceConfig(cfg, nil, nil)

	assert.Equal(t, []dataset.DType{dataset.String, dataset.Int64}, sc.Profile.IdentifierTypes)
	assert.Equal(t, cfg.Profile.TopValues, sc.Profile.TopValues)
	assert.Equal(t, cfg.LLM.Timeout, sc.Query.ModelTimeout)
	assert.Equal(t, cfg.LLM.SampleRows, sc.Query.SampleRows)
	assert.Equal(t, cfg.Sandbox.MaxSteps, sc.SandboxMaxSteps)
	assert.Equal(t, cfg.Sessions.IdleTTL, sc.IdleTTL)
	assert.Equal(t, journal.MemoryPath, sc.JournalPath)
}

// loadTestConfig loads defaults from an empty directory with an in-memory journal.
func loadTestConfig(t *testing.T) *intconfig.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg, err := intconfig.Load("", nil)
	require.NoError(t, err)
	cfg.Journal.Path = journal.MemoryPath
	cfg.Output = "text"
	return cfg
}

// useModel replaces the model factory for the duration of a test.
func useModel(t *testing.T, reply string) {
	t.Helper()
	orig := newModel
	newModel = func(intconfig.LLMConfig, *slog.Logger) llm.Client {
		return llm.ClientFunc(func(context.Context, string, string) (string, error) {
			return reply, nil
		})
	}
	t.Cleanup(func() { newModel = orig })
}

func execute(t *testing.T, cmd *cobra.Command, cfg *intconfig.Config, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(config.WithConfig(context.Background(), cfg))
	return out.String(), errOut.String(), err
}

func TestProfileCommand(t *testing.T) {
	cfg := loadTestConfig(t)
	path := clitestutil.WriteDataFile(t, "sales.csv", clitestutil.SalesCSV)

	out, errOut, err := execute(t, NewProfileCommand(), cfg, path)
	require.NoError(t, err)
	assert.Contains(t, out, "sales.csv (csv)")
	assert.Contains(t, out, "region")
	assert.Contains(t, out, "revenue")
	assert.Contains(t, out, "(2 rows)")
	assert.Empty(t, errOut)
	clitestutil.AssertNoANSI(t, out)
}

func TestProfileCommand_UnsupportedFile(t *testing.T) {
	cfg := loadTestConfig(t)
	path := clitestutil.WriteDataFile(t, "notes.txt", "hello")

	_, _, err := execute(t, NewProfileCommand(), cfg, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestAskCommand(t *testing.T) {
	cfg := loadTestConfig(t)
	useModel(t, `{"answer": "North leads.", "code": "result = df.groupby(\"region\")[\"revenue\"].sum().reset_index()"}`)
	path := clitestutil.WriteDataFile(t, "sales.csv", clitestutil.SalesCSV)

	out, _, err := execute(t, NewAskCommand(), cfg, path, "Which", "region", "leads?", "--show-code")
	require.NoError(t, err)
	assert.Contains(t, out, "North leads.")
	assert.Contains(t, out, "400")
	assert.Contains(t, out, "(4 rows)")
	assert.Contains(t, out, `df.groupby("region")`)
}

func TestAskCommand_JSON(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Output = "json"
	useModel(t, `{"answer": "Five rows."}`)
	path := clitestutil.WriteDataFile(t, "sales.csv", clitestutil.SalesCSV)

	out, _, err := execute(t, NewAskCommand(), cfg, path, "How many rows?")
	require.NoError(t, err)
	assert.Contains(t, out, `"answer": "Five rows."`)
	assert.Contains(t, out, `"success": true`)
	assert.Contains(t, out, `"code": null`)
}

func TestAskCommand_FailedAnswerExitsNonZero(t *testing.T) {
	cfg := loadTestConfig(t)
	path := clitestutil.WriteDataFile(t, "sales.csv", clitestutil.SalesCSV)

	out, _, err := execute(t, NewAskCommand(), cfg, path, "anything?")
	require.ErrorIs(t, err, errNotAnswered)
	assert.Contains(t, out, "AI service error")
	assert.Contains(t, out, "no API key configured")
}
