package task

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StoryReel-server/provider"
)

func TestEstimateReadsCostAndCancels(t *testing.T) {
	fp := &fakeProvider{name: "fake", steps: []step{
		processing(0),
		{status: &provider.Status{State: provider.StateProcessing, Progress: 5, Cost: 0.42}},
	}}
	cp := &cancelingProvider{fakeProvider: fp}

	q, err := New(cp, Policy{MaxAttempts: 10}, WithSleep(noSleep)).Estimate(context.Background(), testReq)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, q.Cost, 1e-9)
	assert.True(t, q.Canceled)
	assert.Equal(t, "ext-1", q.ExternalID)
	assert.Equal(t, []string{"ext-1"}, cp.canceled)
	assert.Equal(t, 2, fp.checks)
}

func TestEstimateCancelsAfterCallerGivesUp(t *testing.T) {
	fp := &fakeProvider{name: "fake"}
	cp := &cancelingProvider{fakeProvider: fp}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q, err := New(cp, Policy{MaxAttempts: 10}, WithSleep(noSleep)).Estimate(ctx, testReq)
	require.NoError(t, err)
	assert.Zero(t, q.Cost)
	assert.True(t, q.Canceled)
	assert.Equal(t, []string{"ext-1"}, cp.canceled)
	assert.True(t, cp.cancelCalled)
	assert.NoError(t, cp.cancelCtxErr)
}

func TestEstimateReportsFailedCancel(t *testing.T) {
	fp := &fakeProvider{name: "fake", steps: []step{{status: &provider.Status{State: provider.StateProcessing, Cost: 1}}}}
	cp := &cancelingProvider{fakeProvider: fp, cancelErr: errors.New("gone")}

	q, err := New(cp, Policy{}, WithSleep(noSleep)).Estimate(context.Background(), testReq)
	require.NoError(t, err)
	assert.False(t, q.Canceled)
	assert.Len(t, cp.canceled, 1)
}

func TestEstimateUnsupported(t *testing.T) {
	fp := &fakeProvider{name: "fake"}
	_, err := New(fp, Policy{}, WithSleep(noSleep)).Estimate(context.Background(), testReq)
	assert.ErrorIs(t, err, ErrEstimateUnsupported)
	assert.Zero(t, fp.submits)
}

func TestEstimateSubmitFailureDoesNotCancel(t *testing.T) {
	fp := &fakeProvider{name: "fake", submitErr: provider.NewError("fake", provider.KindAuth, "")}
	cp := &cancelingProvider{fakeProvider: fp}

	_, err := New(cp, Policy{}, WithSleep(noSleep)).Estimate(context.Background(), testReq)
	assert.Equal(t, provider.KindAuth, provider.KindOf(err))
	assert.Empty(t, cp.canceled)
}
