// ABOUTME: Request-context carriage for the decoded envelope of an HTTP request
// ABOUTME: Set once by the body parser so later stages never re-read the body

package jsonrpc

import "context"

type messageKey struct{}

// WithMessage attaches a decoded envelope to ctx.
func WithMessage(ctx context.Context, m *Message) context.Context {
	return context.WithValue(ctx, messageKey{}, m)
}

// MessageFromContext returns the envelope attached by WithMessage.
func MessageFromContext(ctx context.Context) (*Message, bool) {
	m, ok := ctx.Value(messageKey{}).(*Message)
	return m, ok && m != nil
}
