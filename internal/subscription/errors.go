package subscription

import "errors"

// HealthFailureReason explains why check_subscription_health rejected an
// active subscription (spec.md §4.3).
type HealthFailureReason uint8

const (
	SubscriptionDisconnected HealthFailureReason = iota
	SubscriptionTimeout
	SubscriptionProgressStopped
	SubscriptionSuboptimal
)

func (r HealthFailureReason) String() string {
	switch r {
	case SubscriptionDisconnected:
		return "disconnected"
	case SubscriptionTimeout:
		return "timeout"
	case SubscriptionProgressStopped:
		return "progress_stopped"
	case SubscriptionSuboptimal:
		return "suboptimal"
	default:
		return "unknown"
	}
}

// ErrInvalidMessage is returned by OnMessageReceived when a message
// claims to be from a peer with no active subscription.
var ErrInvalidMessage = errors.New("subscription: message from peer with no active subscription")
