package queue

import "github.com/notifyhub/notify-core/internal/domain"

// Priority controls local dispatch ordering once an item has already come
// off the bus. It is never supplied by the caller: PriorityOf derives it
// from the notification so that HOUSING/STRR traffic is never starved
// behind bulk GC Notify volume.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// PriorityOf derives the dispatch priority for a notification about to be
// enqueued locally. A notification whose stored ProviderCode is HOUSING
// takes the high lane. ProviderCode is only stored once an attempt reaches
// DELIVERED or FAILURE, so a notification that has not yet had a terminal
// attempt carries no ProviderCode and takes the normal lane.
func PriorityOf(n *domain.Notification) Priority {
	if n.ProviderCode != nil && *n.ProviderCode == domain.ProviderHousing {
		return PriorityHigh
	}
	return PriorityNormal
}

// Item is the minimal data placed on the local dispatch queue. Workers
// fetch the full Notification from the store using the ID, keeping the
// queue lightweight and the store authoritative.
type Item struct {
	NotificationID string
	Priority       Priority
	Attempt        int
	// Ack/Nack are forwarded from the bus.Delivery this item was read
	// from, so completing dispatch also completes the bus message.
	Ack  func() error
	Nack func() error
}
