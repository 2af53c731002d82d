package kbsync

import (
	"context"
	"fmt"
	"strings"
)

type ApprovalFields struct {
	ApprovalName string
	ApprovalID   string
	TitleName    string
	BodyName     string
}

type ApprovalResult struct {
	Approved bool
	Question string
	Answer   string
}

type SourceStore interface {
	RetrievePage(ctx context.Context, pageID string) (PropertySnapshot, error)
}

type ApprovalDetector interface {
	Detect(ctx context.Context, ev InboundEvent) (ApprovalResult, error)
}

// NewApprovalDetector selects the detection strategy. Fresh-read is the
// default: it judges the entity's current state instead of a reported
// transition, so missed or duplicated delta events cannot flip the decision.
func NewApprovalDetector(strategy string, source SourceStore, fields ApprovalFields) (ApprovalDetector, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: source store is required", ErrInvalidInput)
	}
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "", "fresh-read", "fresh_read", "fresh":
		return FreshReadDetector{Source: source, Fields: fields}, nil
	case "delta", "diff":
		return DeltaDetector{Source: source, Fields: fields}, nil
	default:
		return nil, fmt.Errorf("unsupported approval strategy: %s", strategy)
	}
}

// DeltaDetector trusts the property deltas carried in the event itself.
// Cheap, but only usable when the deployment's webhook events include
// changed_properties.
type DeltaDetector struct {
	Source SourceStore
	Fields ApprovalFields
}

func (d DeltaDetector) Detect(ctx context.Context, ev InboundEvent) (ApprovalResult, error) {
	var matched *PropertyDelta
	for i := range ev.ChangedProperties {
		delta := &ev.ChangedProperties[i]
		if d.matches(delta) {
			matched = delta
			break
		}
	}
	if matched == nil {
		return ApprovalResult{}, nil
	}
	approved, ok := matched.After.(bool)
	if !ok || !approved {
		return ApprovalResult{}, nil
	}
	if ev.EntityID == "" {
		return ApprovalResult{}, fmt.Errorf("%w: approval event carries no entity id", ErrInvalidInput)
	}
	// Deltas rarely carry the full answer text, so approval still costs one
	// fetch for extraction.
	snap, err := d.Source.RetrievePage(ctx, ev.EntityID)
	if err != nil {
		return ApprovalResult{}, err
	}
	question, answer := ExtractContent(snap, d.Fields.TitleName, d.Fields.BodyName)
	return ApprovalResult{Approved: true, Question: question, Answer: answer}, nil
}

func (d DeltaDetector) matches(delta *PropertyDelta) bool {
	if delta.PropertyName == d.Fields.ApprovalName || delta.PropertyID == d.Fields.ApprovalName {
		return true
	}
	return d.Fields.ApprovalID != "" && delta.PropertyID == d.Fields.ApprovalID
}

// FreshReadDetector fetches the entity's current snapshot and checks the
// approval checkbox there. One extra read per relevant event, immune to
// missing or stale deltas.
type FreshReadDetector struct {
	Source SourceStore
	Fields ApprovalFields
}

func (d FreshReadDetector) Detect(ctx context.Context, ev InboundEvent) (ApprovalResult, error) {
	if ev.EntityID == "" {
		return ApprovalResult{}, nil
	}
	snap, err := d.Source.RetrievePage(ctx, ev.EntityID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if !approvalChecked(snap, d.Fields) {
		return ApprovalResult{}, nil
	}
	question, answer := ExtractContent(snap, d.Fields.TitleName, d.Fields.BodyName)
	return ApprovalResult{Approved: true, Question: question, Answer: answer}, nil
}

func approvalChecked(snap PropertySnapshot, fields ApprovalFields) bool {
	if prop, ok := snap[fields.ApprovalName]; ok {
		return prop.Type == "checkbox" && prop.Checkbox
	}
	if fields.ApprovalID == "" {
		return false
	}
	// Secondary id match survives a rename of the approval field.
	for _, prop := range snap {
		if prop.ID == fields.ApprovalID {
			return prop.Type == "checkbox" && prop.Checkbox
		}
	}
	return false
}
