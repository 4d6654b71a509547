package player

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidIndex    = errors.New("invalid queue index")
	ErrNothingPlaying  = errors.New("nothing is playing")
	ErrNotConnected    = errors.New("not connected to voice")
	ErrAlreadyPaused   = errors.New("already paused")
	ErrAlreadyPlaying  = errors.New("already playing")
	ErrAloneInChannel  = errors.New("nobody else is in the voice channel")
	ErrInvalidVolume   = errors.New("volume must be greater than 0 and at most 2")
	ErrSessionClosed   = errors.New("session closed")
	ErrUserNotInVoice  = errors.New("you need to be in a voice channel")
	ErrUnknownFollower = errors.New("follow target is not in a voice channel")
)

// ResolutionError means a request could not be turned into a playable
// source. Reason is safe to show in chat.
type ResolutionError struct {
	Request string
	Reason  string
	Cause   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("could not resolve %q: %s", e.Request, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

type DecodeError struct {
	Title string
	Cause error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("could not decode %q", e.Title)
}

func (e *DecodeError) Unwrap() error { return e.Cause }

type SinkError struct {
	Cause error
}

func (e *SinkError) Error() string { return "voice playback failed" }

func (e *SinkError) Unwrap() error { return e.Cause }

type JoinError struct {
	ChannelID string
	Cause     error
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("could not join voice channel <#%s>", e.ChannelID)
}

func (e *JoinError) Unwrap() error { return e.Cause }

// ConnectionLost is fatal for the session it names.
type ConnectionLost struct {
	GuildID string
	Cause   error
}

func (e *ConnectionLost) Error() string { return "disconnected from voice" }

func (e *ConnectionLost) Unwrap() error { return e.Cause }
