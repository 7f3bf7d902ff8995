package instrument

import "context"

// invalidCorrelationID is what GetCorrelationID returns when ctx carries no
// correlation id, matching the sentinel logging.go already guards against.
const invalidCorrelationID = "[invalid_chain_id]"

type correlationIDKeyType struct{}

var correlationIDKey = correlationIDKeyType{}

// SetCorrelationID attaches cID to ctx so downstream logging and outbound
// headers can carry one request/message's correlation id end to end
// (mirrored by the consumer side's x-message-id and the producer's outbound
// headers).
func SetCorrelationID(ctx context.Context, cID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, cID)
}

// GetCorrelationID returns the correlation id attached to ctx, or the
// invalid-chain-id sentinel if none was set.
func GetCorrelationID(ctx context.Context) string {
	cID, ok := ctx.Value(correlationIDKey).(string)
	if !ok || cID == "" {
		return invalidCorrelationID
	}
	return cID
}
