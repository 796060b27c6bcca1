// Package signal defines the data that flows from providers towards the
// digital twin: the entity descriptions that tell Freyja where a signal lives,
// the values produced for those entities, and the queue that carries values
// from provider proxies to the emitter.
//
// # Entities
//
// An Entity is the unit of addressing. Its URI identifies the provider
// endpoint that owns it and its Protocol names the wire family used to talk
// to that provider. Operation is either OperationGet (value produced on
// demand) or OperationSubscribe (value pushed on every proxy tick).
//
// # Queue
//
// Queue is an unbounded multi-producer FIFO. Push never blocks, so provider
// proxies can publish from their tick loops without coordinating with the
// consumer. Values from a single producer keep their order; there is no
// ordering across producers.
package signal
