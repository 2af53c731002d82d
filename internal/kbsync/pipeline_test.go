package kbsync

import (
	"context"
	"errors"
	"testing"
)

func TestPipelineProcessesEventsSequentially(t *testing.T) {
	source := &fakeSourceStore{snapshots: map[string]PropertySnapshot{
		"p1": approvedSnapshot(),
		"p2": {"承認": {Type: "checkbox", Checkbox: false}},
		"p3": approvedSnapshot(),
	}}
	target := &fakeSyncTarget{}
	pipeline := Pipeline{
		Detector:   FreshReadDetector{Source: source, Fields: defaultFields()},
		Dispatcher: Dispatcher{Target: target},
	}

	payload := []byte(`{"events":[
		{"object":"page","type":"page.properties_updated","id":"p1"},
		{"object":"page","type":"page.properties_updated","id":"p2"},
		{"object":"page","type":"page.properties_updated","id":"p3"}
	]}`)
	result, err := pipeline.ProcessEnvelope(context.Background(), payload)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Events != 3 || result.Approved != 2 || result.Synced != 2 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(target.names) != 2 {
		t.Fatalf("expected 2 sync writes, got %d", len(target.names))
	}
}

func TestPipelineDispatchFailureDoesNotAbortBatch(t *testing.T) {
	source := &fakeSourceStore{snapshots: map[string]PropertySnapshot{
		"p1": approvedSnapshot(),
		"p2": approvedSnapshot(),
	}}
	pipeline := Pipeline{
		Detector:   FreshReadDetector{Source: source, Fields: defaultFields()},
		Dispatcher: Dispatcher{Target: &fakeSyncTarget{err: errors.New("target down")}},
	}

	payload := []byte(`[{"object":"page","type":"page.updated","id":"p1"},{"object":"page","type":"page.updated","id":"p2"}]`)
	result, err := pipeline.ProcessEnvelope(context.Background(), payload)
	if err != nil {
		t.Fatalf("per-event dispatch failure must not fail the envelope: %v", err)
	}
	if result.Failed != 2 || result.Synced != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if source.calls != 2 {
		t.Fatalf("expected both events processed, got %d fetches", source.calls)
	}
}

func TestPipelineApprovalLookupErrorAbortsEnvelope(t *testing.T) {
	source := &fakeSourceStore{err: errors.New("source store unreachable")}
	pipeline := Pipeline{
		Detector:   FreshReadDetector{Source: source, Fields: defaultFields()},
		Dispatcher: Dispatcher{Target: &fakeSyncTarget{}},
	}

	payload := []byte(`{"events":[{"object":"page","type":"page.updated","id":"p1"}]}`)
	if _, err := pipeline.ProcessEnvelope(context.Background(), payload); err == nil {
		t.Fatalf("expected lookup error to surface so delivery is retried")
	}
}

func TestPipelineCountsUnconfiguredTargetAsSkip(t *testing.T) {
	source := &fakeSourceStore{snapshots: map[string]PropertySnapshot{"p1": approvedSnapshot()}}
	pipeline := Pipeline{
		Detector:   FreshReadDetector{Source: source, Fields: defaultFields()},
		Dispatcher: Dispatcher{},
	}
	payload := []byte(`{"object":"page","type":"page.updated","id":"p1"}`)
	result, err := pipeline.ProcessEnvelope(context.Background(), payload)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Approved != 1 || result.Skipped != 1 || result.Synced != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
