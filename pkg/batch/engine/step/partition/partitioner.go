package partition

import (
	"context"
	"fmt"
	"time"

	model "github.com/tigerroll/seekbatch/pkg/batch/core/domain/model"
)

// ContextKeyPartitionDate is the ExecutionContext key holding a partition's date.
const ContextKeyPartitionDate = "partitionDate"

// Partition is one independent slice of the input.
type Partition struct {
	// Name is unique within a run and becomes the suffix of the worker step name.
	Name string
	// Date is the calendar day covered by a daily partition.
	Date time.Time
	// Context carries partition parameters to the worker step.
	Context model.ExecutionContext
}

// Partitioner splits the inclusive date range [start, end] into partitions.
type Partitioner interface {
	Partition(ctx context.Context, start, end time.Time) ([]Partition, error)
}

// PartitionerFunc adapts a function to Partitioner.
type PartitionerFunc func(ctx context.Context, start, end time.Time) ([]Partition, error)

// Partition calls f.
func (f PartitionerFunc) Partition(ctx context.Context, start, end time.Time) ([]Partition, error) {
	return f(ctx, start, end)
}

// DailyPartitioner produces one partition per calendar day, named by its ISO date.
type DailyPartitioner struct{}

// NewDailyPartitioner creates a DailyPartitioner.
func NewDailyPartitioner() *DailyPartitioner {
	return &DailyPartitioner{}
}

// Partition implements Partitioner. Times of day are ignored.
func (DailyPartitioner) Partition(_ context.Context, start, end time.Time) ([]Partition, error) {
	from := truncateDay(start)
	to := truncateDay(end)
	if to.Before(from) {
		return nil, fmt.Errorf("end date %s is before start date %s", to.Format(model.DateLayout), from.Format(model.DateLayout))
	}

	var partitions []Partition
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		ec := model.NewExecutionContext()
		ec.PutDate(ContextKeyPartitionDate, day)
		partitions = append(partitions, Partition{
			Name:    day.Format(model.DateLayout),
			Date:    day,
			Context: ec,
		})
	}
	return partitions, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

var _ Partitioner = DailyPartitioner{}
