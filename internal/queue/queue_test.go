package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobarin/longcut/internal/models"
)

func TestDecodeJob(t *testing.T) {
	runID := uuid.New()
	data, err := json.Marshal(&Job{
		ID:    uuid.New(),
		Type:  JobTypeAssembleRun,
		RunID: runID,
		Request: &models.CreateRunRequest{
			Scenes:      []string{"open", "close"},
			TotalLength: 20,
			Continuity:  "strong",
		},
	})
	require.NoError(t, err)

	job, err := decodeJob(data)

	require.NoError(t, err)
	assert.Equal(t, runID, job.RunID)
	assert.Equal(t, []string{"open", "close"}, job.Request.Scenes)
	assert.Equal(t, 20, job.Request.TotalLength)
}

func TestDecodeJob_Rejects(t *testing.T) {
	_, err := decodeJob([]byte("{"))
	assert.Error(t, err)

	_, err = decodeJob([]byte(`{"id":"` + uuid.NewString() + `","type":"assemble_run"}`))
	assert.Error(t, err)
}
