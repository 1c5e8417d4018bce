// Package dispatch forwards task execution messages to remote execution
// nodes.
//
// Forward is synchronous and always bounded: the whole call, retries
// included, finishes within the dispatcher's timeout. Outcomes are reported
// as a ResultCode plus, for every non-OK code, a *DispatchError that wraps
// one of ErrDispatchRejected, ErrDeliveryFailed or ErrDispatchTimeout.
//
// Forwarding the same message again is safe: the idempotency key sent with
// every request depends only on the logical request, not on the message id
// or on the attempt, so a receiver can drop duplicates.
//
// Callers that must not block run forwards through a Pool.
package dispatch
