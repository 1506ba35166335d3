package enums

import "fmt"

// ContentStatus describes the lifecycle state of a generated note.
type ContentStatus string

const (
	ContentStatusDraft          ContentStatus = "DRAFT"
	ContentStatusPendingReview  ContentStatus = "PENDING_REVIEW"
	ContentStatusRejected       ContentStatus = "REJECTED"
	ContentStatusPendingPublish ContentStatus = "PENDING_PUBLISH"
	ContentStatusPublished      ContentStatus = "PUBLISHED"
	ContentStatusPublishFailed  ContentStatus = "PUBLISH_FAILED"
)

var validContentStatuses = []ContentStatus{
	ContentStatusDraft,
	ContentStatusPendingReview,
	ContentStatusRejected,
	ContentStatusPendingPublish,
	ContentStatusPublished,
	ContentStatusPublishFailed,
}

// contentTransitions lists the allowed next states per current state.
// PUBLISHED and REJECTED are terminal; PUBLISH_FAILED can be requeued
// by an operator.
var contentTransitions = map[ContentStatus][]ContentStatus{
	ContentStatusDraft:          {ContentStatusPendingReview, ContentStatusPendingPublish, ContentStatusRejected},
	ContentStatusPendingReview:  {ContentStatusPendingPublish, ContentStatusRejected},
	ContentStatusPendingPublish: {ContentStatusPublished, ContentStatusPublishFailed},
	ContentStatusPublishFailed:  {ContentStatusPendingPublish},
}

// String returns the literal string for the status.
func (s ContentStatus) String() string {
	return string(s)
}

// IsValid reports whether the status is known.
func (s ContentStatus) IsValid() bool {
	for _, candidate := range validContentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the item can receive no further
// automatic transition.
func (s ContentStatus) IsTerminal() bool {
	return s == ContentStatusPublished || s == ContentStatusRejected
}

// IsInFlight reports whether the item still blocks new generation for
// its catalog item.
func (s ContentStatus) IsInFlight() bool {
	switch s {
	case ContentStatusDraft, ContentStatusPendingReview, ContentStatusPendingPublish:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is allowed.
func (s ContentStatus) CanTransition(next ContentStatus) bool {
	for _, candidate := range contentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseContentStatus converts raw input into a ContentStatus.
func ParseContentStatus(value string) (ContentStatus, error) {
	for _, candidate := range validContentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid content status %q", value)
}
