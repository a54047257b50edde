package intake

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadDecode(t *testing.T) {
	raw := `{
		"amount": 25000,
		"currency": "RWF",
		"ref": "MP240801.1234.A56789",
		"confidence": 0.93,
		"source_message_id": "sms-0001"
	}`

	var p payload
	require.NoError(t, json.Unmarshal([]byte(raw), &p))

	assert.Equal(t, int64(25000), p.Amount)
	assert.Equal(t, "RWF", p.Currency)
	assert.Equal(t, "MP240801.1234.A56789", p.Ref)
	assert.Equal(t, 0.93, p.Confidence)
	assert.Equal(t, "sms-0001", p.SourceMessageID)
}

func TestPayloadDecode_PartialMessage(t *testing.T) {
	var p payload
	require.NoError(t, json.Unmarshal([]byte(`{"amount":5000,"confidence":0.4}`), &p))

	assert.Equal(t, int64(5000), p.Amount)
	assert.Equal(t, 0.4, p.Confidence)
	assert.Empty(t, p.SourceMessageID)
	assert.Empty(t, p.Currency)
}
