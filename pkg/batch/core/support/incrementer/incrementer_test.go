package incrementer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

func TestRunIDIncrementer(t *testing.T) {
	inc := NewRunIDIncrementer("")
	params := model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"})

	first := inc.GetNext(params)
	id, ok := first.GetInt64("run.id")
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	_, ok = params.Get("run.id")
	assert.False(t, ok, "input parameters are not modified")

	second := inc.GetNext(first)
	id, _ = second.GetInt64("run.id")
	assert.Equal(t, int64(2), id)

	k1, err := first.InstanceKey("paymentStatisticsDailyJob")
	require.NoError(t, err)
	k2, err := second.InstanceKey("paymentStatisticsDailyJob")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestTimestampIncrementer(t *testing.T) {
	inc := NewTimestampIncrementer("")
	inc.now = func() time.Time { return time.UnixMilli(1736035200000) }

	next := inc.GetNext(model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"}))
	ts, ok := next.GetInt64("run.timestamp")
	require.True(t, ok)
	assert.Equal(t, int64(1736035200000), ts)
	date, _ := next.GetString("paymentDate")
	assert.Equal(t, "2025-01-05", date)
}
