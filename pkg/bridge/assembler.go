package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/odvcencio/backchannel/pkg/logging"
	"github.com/odvcencio/backchannel/pkg/observability"
)

// streamOutcome is the terminal state of one assembled stream.
type streamOutcome int

const (
	outcomeCompleted streamOutcome = iota
	outcomeTimedOut
	outcomeFailed
	outcomeCanceled
)

func (o streamOutcome) String() string {
	switch o {
	case outcomeCompleted:
		return "completed"
	case outcomeTimedOut:
		return "timed_out"
	case outcomeFailed:
		return "failed"
	case outcomeCanceled:
		return "canceled"
	}
	return "unknown"
}

// assembleResponse polls the mailbox until the stream reaches a
// terminal state, yielding the text added since the previous frame on
// each tick. Frames carry the whole message so far, so the delta is a
// suffix slice, never a diff.
//
// Tick order matters: the eof signal is captured before the data node
// is read, so a final frame published just before eof is still
// delivered on the tick that observes eof. The timeout only fires on
// ticks that produced no message; a slow but still-updating stream is
// allowed to run.
func (b *Bridge) assembleResponse(ctx context.Context, yield func(string)) streamOutcome {
	box := mailbox{host: b.host}
	last := ""
	start := time.Now()

	for {
		if ctx.Err() != nil {
			return outcomeCanceled
		}
		observability.RecordAssemblerPoll()

		eofSeen, err := box.eofPresent(ctx)
		if err != nil {
			return b.streamReadError(ctx, yield, "eof_poll_failed", err)
		}

		dataPresent, err := box.dataPresent(ctx)
		if err != nil {
			return b.streamReadError(ctx, yield, "data_poll_failed", err)
		}
		if !dataPresent {
			// The driver creates the node before sending, so absence
			// means the injection never ran or something tore the node
			// down. Re-poll immediately, but not forever.
			if time.Since(start) > b.timeout {
				return outcomeTimedOut
			}
			continue
		}

		var full *string

		payload, err := box.readData(ctx)
		if err != nil {
			return b.streamReadError(ctx, yield, "data_read_failed", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			b.logger.Error(logging.CategoryStream, "frame_decode_failed", err.Error(), nil)
			yield(streamReadFailedMessage)
			return outcomeFailed
		}
		if len(decoded) > 0 {
			// A literal null payload decodes to a nil frame and is
			// treated as no message, same as an empty node.
			var frame *Frame
			if err := json.Unmarshal(decoded, &frame); err != nil {
				b.logger.Error(logging.CategoryStream, "frame_parse_failed", err.Error(), nil)
				yield(streamReadFailedMessage)
				return outcomeFailed
			}
			if frame != nil {
				b.parentMessageID = frame.Message.ID
				b.conversationID = frame.ConversationID
				joined := frame.JoinedParts()
				full = &joined
			}
		}

		if full != nil {
			if len(*full) >= len(last) {
				if chunk := (*full)[len(last):]; chunk != "" {
					yield(chunk)
				}
			}
			last = *full
		}

		if eofSeen {
			return outcomeCompleted
		}
		if time.Since(start) > b.timeout && full == nil {
			return outcomeTimedOut
		}

		select {
		case <-ctx.Done():
			return outcomeCanceled
		case <-time.After(b.pollInterval):
		}
	}
}

// streamReadError maps a host failure mid-stream to a terminal outcome.
// Cancellation is not a failure; anything else ends the stream with the
// one fixed failure text.
func (b *Bridge) streamReadError(ctx context.Context, yield func(string), event string, err error) streamOutcome {
	if ctx.Err() != nil {
		return outcomeCanceled
	}
	b.logger.Error(logging.CategoryMailbox, event, err.Error(), nil)
	yield(streamReadFailedMessage)
	return outcomeFailed
}
