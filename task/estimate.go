package task

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"StoryReel-server/provider"
)

// ErrEstimateUnsupported is returned when the provider cannot cancel a job,
// so a dry run would be billed in full.
var ErrEstimateUnsupported = errors.New("provider cannot cancel jobs; estimate unavailable")

const (
	estimateChecks        = 3
	estimateCancelTimeout = 15 * time.Second
)

// Quote is the outcome of a dry run.
type Quote struct {
	Provider   string  `json:"provider"`
	ExternalID string  `json:"external_id"`
	Cost       float64 `json:"cost"`
	Canceled   bool    `json:"canceled"`
}

// Estimate submits req, reads the cost the provider reports within a few
// checks, and cancels the job. Cancellation is attempted even when the
// caller's context is done.
func (m *Machine) Estimate(ctx context.Context, req *provider.GenerationRequest) (q Quote, err error) {
	name := m.prov.Name()
	canceler, ok := m.prov.(provider.Canceler)
	if !ok {
		return Quote{Provider: name}, ErrEstimateUnsupported
	}

	externalID, err := m.prov.Submit(ctx, req)
	if err != nil {
		m.metrics.RecordSubmission(name, string(provider.KindOf(err)))
		return Quote{Provider: name}, provider.AsError(name, err)
	}
	m.metrics.RecordSubmission(name, PollOK)
	q = Quote{Provider: name, ExternalID: externalID}

	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), estimateCancelTimeout)
		defer cancel()
		if cerr := canceler.Cancel(cctx, externalID); cerr != nil {
			m.logger.Warn("estimate cancel failed", zap.String("external_id", externalID), zap.Error(cerr))
			return
		}
		q.Canceled = true
	}()

	for i := 0; i < estimateChecks; i++ {
		if serr := m.sleep(ctx, m.policy.Interval); serr != nil {
			break
		}
		st, cerr := m.prov.CheckStatus(ctx, externalID)
		if cerr != nil {
			if provider.IsTransient(cerr) {
				continue
			}
			break
		}
		if st.Cost > 0 {
			q.Cost = st.Cost
			break
		}
		if st.State.Terminal() {
			break
		}
	}
	return q, nil
}
