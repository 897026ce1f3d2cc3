// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrAnswerTruncated is returned by Ask when the server ended the answer early.
var ErrAnswerTruncated = errors.New("answer ended early and may be incomplete")

// Ask streams one answer for question to w, writing each chunk as it is
// flushed. Cancelling ctx stops the stream and keeps what was written.
func Ask(ctx context.Context, w io.Writer, cfg ChatConfig, question string) error {
	buf := NewTextBuffer(cfg.Client, TextBufferConfig{
		URL:      cfg.URL,
		Payload:  map[string]string{"query": question},
		Throttle: cfg.Throttle,
	})
	defer buf.Close()

	if err := buf.Start(ctx); err != nil {
		return err
	}

	done := buf.Wait()
	printed := 0
	write := func() error {
		chunks := buf.Buffer()
		for _, chunk := range chunks[printed:] {
			if _, err := io.WriteString(w, chunk); err != nil {
				return err
			}
		}
		printed = len(chunks)
		return nil
	}

	for {
		select {
		case <-buf.Updates():
			if err := write(); err != nil {
				buf.Cancel()
				return err
			}
		case <-done:
			if err := write(); err != nil {
				return err
			}
			if printed > 0 {
				fmt.Fprintln(w)
			}
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case buf.Err() != nil:
				return buf.Err()
			case buf.Truncated():
				return ErrAnswerTruncated
			}
			return nil
		}
	}
}
