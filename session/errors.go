// Copyright 2026 The Threadline Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"

	"github.com/threadline-dev/threadline/lib/ref"
)

// SendError reports a failure to stage an outbound stanza. Transient
// failures come from the durable queue and may succeed if the caller
// retries the send; non-transient failures (encoding) will fail the
// same way on every attempt.
type SendError struct {
	Kind      string
	StanzaID  ref.StanzaID
	Transient bool
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("session: send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsTransientSend reports whether err is a SendError worth retrying.
func IsTransientSend(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Transient
}
