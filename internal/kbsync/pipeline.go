package kbsync

import (
	"context"
	"log"

	"github.com/agentworkforce/kbsync/internal/metrics"
)

type PipelineResult struct {
	Events   int
	Approved int
	Synced   int
	Skipped  int
	Failed   int
}

// Pipeline runs one webhook envelope through normalize, detect, extract, and
// dispatch. Events are processed sequentially in array order. A dispatch
// failure is logged and counted but never aborts the remaining events; a
// normalization or approval-lookup error aborts the envelope so the source
// store's delivery retry can take over.
type Pipeline struct {
	Detector   ApprovalDetector
	Dispatcher Dispatcher
	Allow      map[string]bool
}

func (p Pipeline) ProcessEnvelope(ctx context.Context, payload []byte) (PipelineResult, error) {
	events, err := NormalizeEnvelope(payload, p.Allow)
	if err != nil {
		return PipelineResult{}, err
	}
	result := PipelineResult{Events: len(events)}
	metrics.EventsNormalized.Add(float64(len(events)))

	for _, ev := range events {
		approval, err := p.Detector.Detect(ctx, ev)
		if err != nil {
			return result, err
		}
		if !approval.Approved {
			continue
		}
		result.Approved++
		metrics.ApprovalsDetected.Inc()

		dispatch := p.Dispatcher.Dispatch(ctx, approval.Question, approval.Answer)
		switch {
		case dispatch.Err != nil:
			log.Printf("sync dispatch failed for entity %s: %v", ev.EntityID, dispatch.Err)
			result.Failed++
			metrics.SyncDispatches.WithLabelValues("error").Inc()
		case dispatch.Skipped:
			result.Skipped++
			metrics.SyncDispatches.WithLabelValues("skipped").Inc()
		default:
			result.Synced++
			metrics.SyncDispatches.WithLabelValues("ok").Inc()
		}
	}
	return result, nil
}
