package replica

import (
	"context"
	"fmt"
	"strconv"
)

// MessageHandler processes one inbound message. Returning ok=true sends
// reply back to the requester; handlers that do not answer return false.
type MessageHandler func(ctx context.Context, data []byte) (reply []byte, ok bool)

// Subscription is an active registration on a Transport.
type Subscription interface {
	Unsubscribe() error
}

// Transport is the asynchronous message channel between contexts.
// Subjects are dot-separated tokens; a "*" token in a subscription matches
// any single token.
type Transport interface {
	// Publish delivers data to every current subscriber of subject without
	// waiting for handlers to run.
	Publish(ctx context.Context, subject string, data []byte) error

	// Request delivers data to the subscribers of subject and returns the
	// first reply. It returns ErrNoResponders when nobody answered and
	// the context error when ctx expires first.
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)

	// Subscribe registers handler for subject.
	Subscribe(subject string, handler MessageHandler) (Subscription, error)
}

// Subject returns the transport subject of channel within group. For the
// scoped channel, Wildcard addresses the "any" subject every leaf listens on.
func Subject(group string, ch Channel, scope int) string {
	switch ch {
	case ChannelScoped:
		if scope == Wildcard {
			return fmt.Sprintf("replica.%s.scope.any", group)
		}
		return fmt.Sprintf("replica.%s.scope.%s", group, strconv.Itoa(scope))
	case ChannelRelay:
		return fmt.Sprintf("replica.%s.relay", group)
	default:
		return fmt.Sprintf("replica.%s.shared", group)
	}
}

// listenSubjects returns the subjects a context subscribes to for ch.
func listenSubjects(group string, ch Channel, scope int) []string {
	if ch != ChannelScoped {
		return []string{Subject(group, ch, scope)}
	}
	if scope == Wildcard {
		return []string{fmt.Sprintf("replica.%s.scope.*", group)}
	}
	return []string{Subject(group, ch, scope), Subject(group, ch, Wildcard)}
}
