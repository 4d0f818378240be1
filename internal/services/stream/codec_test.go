package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinCast/internal/domain/models"
	pkgkafka "FinCast/pkg/kafka"
)

func TestEncodeWireFormat(t *testing.T) {
	tick := models.Tick{
		Timestamp: time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
		Open:      67000.5, High: 67100, Low: 66950.25, Close: 67050,
	}
	b, err := Encode(tick)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"2024-06-01 12:30:00","open":67000.5,"high":67100,"low":66950.25,"close":67050}`, string(b))

	back, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, tick, back)
}

func TestEncodeConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	b, err := Encode(models.Tick{Timestamp: time.Date(2024, 6, 1, 19, 0, 0, 0, loc)})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"2024-06-01 12:00:00"`)
}

func TestDecodeRejects(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":      `{`,
		"missing close": `{"timestamp":"2024-06-01 12:30:00","open":1,"high":1,"low":1}`,
		"bad timestamp": `{"timestamp":"2024-06-01T12:30:00Z","open":1,"high":1,"low":1,"close":1}`,
		"string price":  `{"timestamp":"2024-06-01 12:30:00","open":"1","high":1,"low":1,"close":1}`,
	} {
		_, err := Decode([]byte(payload))
		assert.ErrorIs(t, err, pkgkafka.ErrMalformed, name)
	}
}
