package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

type recordingNotifier struct {
	seen []string
	err  error
}

func (n *recordingNotifier) NotifyJobCompletion(_ context.Context, je *model.JobExecution) error {
	n.seen = append(n.seen, je.Status.String())
	return n.err
}

func TestAfterJob_NotifiesEveryNotifier(t *testing.T) {
	je, err := model.NewJobExecution("paymentStatisticsJob", model.NewJobParameters(map[string]interface{}{"paymentDate": "2025-01-05"}))
	require.NoError(t, err)
	je.MarkAsRunning()
	je.MarkAsFailed(errors.New("boom"))

	broken := &recordingNotifier{err: errors.New("webhook down")}
	healthy := &recordingNotifier{}
	err = AfterJob(NewLogNotifier(), broken, healthy)(context.Background(), je)

	assert.EqualError(t, err, "webhook down")
	assert.Equal(t, []string{"FAILED"}, broken.seen)
	assert.Equal(t, []string{"FAILED"}, healthy.seen, "a failing notifier does not stop the rest")
	assert.Contains(t, Message(je), "Status: FAILED")
	assert.Contains(t, Message(je), "Failures: 1")
}
