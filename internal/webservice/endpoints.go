// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package webservice

import (
	"net/url"
	"strings"

	"github.com/netSkope/phantom-qa-tool/internal/apperr"
)

// Endpoints are the web service URLs used by one publish run.
type Endpoints struct {
	Upload    string
	Results   string
	Number1Ds string
	String1Ds string
}

// NewEndpoints derives the endpoint set from the base URL and a phantom id.
func NewEndpoints(baseURL, phantomID string) (Endpoints, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Endpoints{}, apperr.Validation("webservice endpoints", "invalid webservice url %q", baseURL)
	}
	phantom := strings.ToLower(strings.TrimSpace(phantomID))
	if phantom == "" {
		return Endpoints{}, apperr.Validation("webservice endpoints", "phantom is required")
	}

	return Endpoints{
		Upload:    base + "/upload",
		Results:   base + "/" + url.PathEscape(phantom) + "results",
		Number1Ds: base + "/number1ds",
		String1Ds: base + "/string1ds",
	}, nil
}
