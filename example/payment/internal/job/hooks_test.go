package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"

	"github.com/tigerroll/seekbatch/example/payment/internal/domain/entity"
)

func TestClearExistingData_GatesOnContextFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Dependencies{})
	day := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)
	addStat := func() {
		require.NoError(t, f.db.Create(&entity.PaymentDailyStatistics{
			CorpName: "Old", BusinessRegistrationNumber: "999", Amount: 5, PaymentDate: "2025-01-05",
		}).Error)
	}
	clearStats := ClearExistingData(f.builder.Repository(), day, day)

	t.Run("restart whose earlier attempt never cleared", func(t *testing.T) {
		addStat()
		je, err := model.NewJobExecution(PaymentStatisticsJobName, rangeParams("2025-01-05", "2025-01-05"))
		require.NoError(t, err)
		je.RestartCount = 1

		require.NoError(t, clearStats(ctx, je))
		assert.NotContains(t, f.statistics(t), "999@2025-01-05")
		done, _ := je.ExecutionContext.GetBool(ContextKeyExistingDataCleared)
		assert.True(t, done)
	})

	t.Run("execution that already cleared", func(t *testing.T) {
		addStat()
		je, err := model.NewJobExecution(PaymentStatisticsJobName, rangeParams("2025-01-05", "2025-01-05"))
		require.NoError(t, err)
		je.ExecutionContext.Put(ContextKeyExistingDataCleared, true)

		require.NoError(t, clearStats(ctx, je))
		assert.Contains(t, f.statistics(t), "999@2025-01-05")
		_, ok := je.ExecutionContext.Get(ContextKeyClearedRows)
		assert.False(t, ok)
	})
}
