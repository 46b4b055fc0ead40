package adapter

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/tokligence/chatstream/internal/delta"
	"github.com/tokligence/chatstream/internal/stream"
)

// Pump drives the frame decoder and delta extractor over body until the
// stream ends, ctx is cancelled, or the reader fails.
//
// ctx is checked before every decode iteration, so at most one frame is
// processed after cancellation. Deltas already passed to onDelta are never
// retracted: Cancelled and StreamInterrupted errors carry them as Partial.
func Pump(ctx context.Context, body io.Reader, provider delta.Provider, onDelta DeltaFunc) (Result, error) {
	dec := stream.NewDecoder(provider.Framing(), body)
	var (
		res       Result
		content   strings.Builder
		reasoning strings.Builder
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, Cancelled(content.String(), reasoning.String(), err)
		}
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// net/http aborts the body read when the request context is
			// cancelled; that is a cancellation, not a transport fault.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, Cancelled(content.String(), reasoning.String(), ctxErr)
			}
			return Result{}, Interrupted(content.String(), reasoning.String(), err)
		}
		d := delta.Extract(frame, provider)
		if d.Empty() {
			continue
		}
		content.WriteString(d.Content)
		reasoning.WriteString(d.Reasoning)
		if d.FinishReason != "" {
			res.FinishReason = d.FinishReason
		}
		if d.Usage != nil {
			res.Usage = d.Usage
		}
		if onDelta != nil {
			onDelta(d)
		}
	}
	res.SkippedFrames = dec.Skipped()
	res.Content = content.String()
	res.Reasoning = reasoning.String()
	return res, nil
}
