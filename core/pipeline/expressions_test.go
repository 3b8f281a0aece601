package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	vars := map[string]string{"Execution.PipelineExecutionId": "abc123"}
	lookup := func(path string) (string, bool) {
		v, ok := vars[path]
		return v, ok
	}

	expr := join("/", join("/", "s3://artifacts/evaluation", get("Execution.PipelineExecutionId")), "evaluation.json")
	got, err := Resolve(expr, lookup)
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/evaluation/abc123/evaluation.json", got)

	_, err = Resolve(get("Steps.Training.ModelArtifacts.S3ModelArtifacts"), lookup)
	assert.Error(t, err)

	_, err = Resolve(42, lookup)
	assert.Error(t, err)
}

func TestResolve_AfterRoundTrip(t *testing.T) {
	def, err := NewBuilder(testConfig(), &fakeService{}).Build("p", "s3://features")
	require.NoError(t, err)
	doc, err := def.JSON()
	require.NoError(t, err)
	parsed, err := ParseDefinition("p", doc)
	require.NoError(t, err)

	step, ok := parsed.Step(StepRegistration)
	require.True(t, ok)
	uri, ok := Lookup(step.Arguments, "ModelMetrics", "ModelQuality", "Statistics", "S3Uri")
	require.True(t, ok)

	got, err := Resolve(uri, func(path string) (string, bool) {
		return "exec-9", path == "Execution.PipelineExecutionId"
	})
	require.NoError(t, err)
	assert.Equal(t, "s3://artifacts/evaluation/exec-9/evaluation.json", got)

	_, ok = Lookup(step.Arguments, "InferenceSpecification", "Containers", 5)
	assert.False(t, ok)
}
