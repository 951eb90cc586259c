package ipc

// The handshake vocabulary of spec.md §4.8. Invalid is the only tag
// allowed to be the zero value; every control message carries one of
// these in its Container.Tag once encoded.
const (
	TagInvalid uint32 = iota
	TagNAK
	TagACK
	TagGetLatency
	TagStart
	TagPause
	TagResume
	TagStop
	TagDrain
	TagParameters

	// tagReservedFloat is not part of the ten-entry vocabulary; it gives
	// the reserved (tag, float) payload shape of spec.md §4.8 a home so
	// it can be registered without colliding with a real control tag.
	tagReservedFloat = 0xfffe
)

// Bare control request messages: the tag alone carries the meaning.
type (
	GetLatencyMsg struct{ _ byte }
	StartMsg      struct{ _ byte }
	PauseMsg      struct{ _ byte }
	ResumeMsg     struct{ _ byte }
	StopMsg       struct{ _ byte }
	DrainMsg      struct{ _ byte }
)

// LatencyReply is the (tag, int32) latency answer, carried under the
// same GetLatency tag as the request that asked for it.
type LatencyReply struct {
	Frames int32
}

// FloatMsg is the reserved (tag, float) payload shape.
type FloatMsg struct {
	Value float32
}

// SetParameters is the (tag, SetParameters) payload pushed by
// setHwParams, per spec.md §4.10.
type SetParameters struct {
	Channels   int32
	Rate       int32
	PeriodSize int32
	NumPeriods int32
	Format     int32
}

// AckMsg and NakMsg are the generic (tag, tag) responses of spec.md
// §4.8: the outer container tag is ACK or NAK, Request names the tag of
// the request being answered.
type AckMsg struct {
	Request uint32
}

type NakMsg struct {
	Request uint32
}

func init() {
	Register[GetLatencyMsg](TagGetLatency)
	Register[LatencyReply](TagGetLatency)
	Register[StartMsg](TagStart)
	Register[PauseMsg](TagPause)
	Register[ResumeMsg](TagResume)
	Register[StopMsg](TagStop)
	Register[DrainMsg](TagDrain)
	Register[SetParameters](TagParameters)
	Register[FloatMsg](tagReservedFloat)
	Register[AckMsg](TagACK)
	Register[NakMsg](TagNAK)
}
