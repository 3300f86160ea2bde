// Package sink provides the push transports that delivery workers call.
//
// [Webhook] posts a JSON notification to the subscriber endpoint URL and
// classifies the outcome for the retry machinery. [Log] writes the
// notification to a structured logger and always succeeds; it is used for
// local runs and demos.
//
// Both implement delivery.Sink.
package sink
