package recovery

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/storefront/storefront/pkg/errors"
)

func TestErrorRing(t *testing.T) {
	r := newErrorRing(3)
	assert.Empty(t, r.list())

	for i := 1; i <= 5; i++ {
		r.add(ErrorSnapshot{Message: fmt.Sprint(i)})
	}

	got := r.list()
	assert.Len(t, got, 3)
	assert.Equal(t, "3", got[0].Message)
	assert.Equal(t, "5", got[2].Message)
}

func TestRetryContext(t *testing.T) {
	rc := RetryContext{MaxAttempts: 2}
	start := time.Now()

	rc.begin(start)
	rc.begin(start.Add(time.Second))
	assert.Equal(t, start, rc.StartedAt)
	assert.Equal(t, 3*time.Second, rc.Elapsed(start.Add(3*time.Second)))

	rc.CurrentAttempt = 2
	rc.LastError = snapshotError(stderrors.New("x"), ClassUnknown, start)
	assert.True(t, rc.exhausted())

	rc.reset()
	assert.Zero(t, rc.CurrentAttempt)
	assert.NotNil(t, rc.LastError)
	assert.Zero(t, rc.Elapsed(time.Now()))

	rc.succeed()
	assert.Nil(t, rc.LastError)
}

func TestSnapshotError(t *testing.T) {
	assert.Nil(t, snapshotError(nil, ClassUnknown, time.Now()))

	err := errors.NewError(errors.ErrCodeAuthenticationFailed, "login failed").
		WithCause(stderrors.New("mongodb://alice:s3cret@db"))
	snap := snapshotError(err, ClassAuth, time.Now())
	assert.Equal(t, errors.ErrCodeAuthenticationFailed, snap.Code)
	assert.Equal(t, ClassAuth, snap.Class)
	assert.NotContains(t, snap.Message, "s3cret")
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorClass
	}{
		{nil, ClassUnknown},
		{stderrors.New("Authentication failed."), ClassAuth},
		{fmt.Errorf("ping: %w", context.DeadlineExceeded), ClassTimeout},
		{stderrors.New("server selection error: context deadline"), ClassTopology},
		{errors.NewError(errors.ErrCodeConnectionTimeout, "slow"), ClassTimeout},
		{stderrors.New("connection reset"), ClassUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultClassifier(tt.err), "%v", tt.err)
	}
}

func TestChain(t *testing.T) {
	topology := func(error) ErrorClass { return ClassTopology }
	c := Chain(nil, func(error) ErrorClass { return ClassUnknown }, topology)
	assert.Equal(t, ClassTopology, c(stderrors.New("x")))
	assert.Equal(t, ClassUnknown, Chain()(stderrors.New("x")))
}
