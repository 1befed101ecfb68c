// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package webservice

import (
	"fmt"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
)

// TransportError reports a failed request. StatusCode is zero when no
// response was received.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: failed with status %d - %s", e.Op, e.URL, e.StatusCode, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Kind classifies the error for apperr.KindOf.
func (e *TransportError) Kind() apperr.Kind {
	return apperr.KindTransport
}
