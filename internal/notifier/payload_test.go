package notifier

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadMarshalFlattensData(t *testing.T) {
	p := Success("Mint", map[string]interface{}{
		"mint_id":  int64(7),
		"token_id": "42",
	})

	body, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))

	// Data fields sit next to status and type, not nested under a key.
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "Mint", out["type"])
	assert.Equal(t, "42", out["token_id"])
	assert.Equal(t, float64(7), out["mint_id"])
	_, hasData := out["data"]
	assert.False(t, hasData)
	_, hasError := out["error"]
	assert.False(t, hasError)
}

func TestPayloadMarshalIncludesErrorOnFailure(t *testing.T) {
	p := Failure("Transfer-Token", "token delivery failed", map[string]interface{}{
		"transfer_id": int64(11),
	})

	body, err := json.Marshal(p)
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))

	assert.Equal(t, "failed", out["status"])
	assert.Equal(t, "Transfer-Token", out["type"])
	assert.Equal(t, "token delivery failed", out["error"])
	assert.Equal(t, float64(11), out["transfer_id"])
}
