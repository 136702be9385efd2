package options

import (
	"math"
	"time"
)

const (
	errorScoreDecayHalflifeDefault = time.Minute * 10
	errorScoreThresholdDefault     = 100000

	deserializationErrorScoreDefault = 5000
	frameTooLargeErrorScoreDefault   = 10000
	sketchMismatchErrorScoreDefault  = 5000
	invalidCapacityErrorScoreDefault = 5000
	transportErrorScoreDefault       = 1000
	serializationErrorScoreDefault   = 0
	sessionClosedErrorScoreDefault   = 0
	peerBlacklistedErrorScoreDefault = uint64(math.MaxUint32)
	unknownErrorScoreDefault         = transportErrorScoreDefault
)

// PeerErrorHandlerOptions are options for PeerErrorHandler
type PeerErrorHandlerOptions struct {
	ErrorScoreDecayHalflife time.Duration
	ErrorScoreThreshold     uint64

	DeserializationErrorScore uint64
	FrameTooLargeErrorScore   uint64
	SketchMismatchErrorScore  uint64
	InvalidCapacityErrorScore uint64
	TransportErrorScore       uint64
	SerializationErrorScore   uint64
	SessionClosedErrorScore   uint64
	PeerBlacklistedErrorScore uint64
	UnknownErrorScore         uint64
}

// NewPeerErrorHandlerOptions returns default initialized PeerErrorHandlerOptions
func NewPeerErrorHandlerOptions() *PeerErrorHandlerOptions {
	return &PeerErrorHandlerOptions{
		ErrorScoreDecayHalflife:   errorScoreDecayHalflifeDefault,
		ErrorScoreThreshold:       errorScoreThresholdDefault,
		DeserializationErrorScore: deserializationErrorScoreDefault,
		FrameTooLargeErrorScore:   frameTooLargeErrorScoreDefault,
		SketchMismatchErrorScore:  sketchMismatchErrorScoreDefault,
		InvalidCapacityErrorScore: invalidCapacityErrorScoreDefault,
		TransportErrorScore:       transportErrorScoreDefault,
		SerializationErrorScore:   serializationErrorScoreDefault,
		SessionClosedErrorScore:   sessionClosedErrorScoreDefault,
		PeerBlacklistedErrorScore: peerBlacklistedErrorScoreDefault,
		UnknownErrorScore:         unknownErrorScoreDefault,
	}
}
