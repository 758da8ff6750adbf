package serve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_ScanUnmarshal(t *testing.T) {
	input := `{"type":"scan","payload":{"name":"run.bat","content":"powershell","facts":{"file_size":["10"]}}}`

	var req Request
	require.NoError(t, json.Unmarshal([]byte(input), &req))
	assert.Equal(t, "scan", req.Type)

	var payload ScanPayload
	require.NoError(t, json.Unmarshal(req.Payload, &payload))
	assert.Equal(t, "run.bat", payload.Name)
	assert.Equal(t, "powershell", payload.Content)
	assert.Equal(t, []string{"10"}, payload.Facts["file_size"])
}

func TestResponse_Marshal(t *testing.T) {
	data, err := json.Marshal(Response{Success: true, Type: "ready"})
	require.NoError(t, err)

	assert.Contains(t, string(data), `"success":true`)
	assert.Contains(t, string(data), `"type":"ready"`)
	assert.NotContains(t, string(data), `"error"`)
}
