// Copyright 2025 The ChapaUY Authors
//
// SPDX-License-Identifier: Apache-2.0

package geocoding

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jcodagnone/locres/utils/httputils"
	"golang.org/x/text/language"
)

// DefaultLanguage is the Accept-Language preference used when none is set.
const DefaultLanguage = "uk"

// HTTPOptions configures the client shared by every provider.
type HTTPOptions struct {
	// UserAgent is required by the OpenStreetMap usage policy.
	UserAgent string

	// Language is a BCP 47 tag sent as Accept-Language.
	Language string

	// TraceWriter, when set, receives a dump of every request and response.
	TraceWriter io.Writer

	// TraceBody includes bodies in the dump.
	TraceBody bool
}

// ParseLanguage validates a BCP 47 tag and returns its canonical form.
func ParseLanguage(s string) (string, error) {
	if s == "" {
		return DefaultLanguage, nil
	}

	tag, err := language.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid language %q: %w", s, err)
	}

	return tag.String(), nil
}

// NewHTTPClient builds the client used by the chain. The per-provider
// deadline is carried by the request context, not by the client.
func NewHTTPClient(opts HTTPOptions) (*http.Client, error) {
	lang, err := ParseLanguage(opts.Language)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	loggingTransport := &httputils.LoggingRoundTripper{
		Writer:    opts.TraceWriter,
		DumpBody:  opts.TraceBody,
		Transport: transport,
	}

	headers := map[string]string{
		"Accept":          "application/json",
		"Accept-Language": lang,
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}

	return &http.Client{
		Transport: &httputils.AppendRequestHeadersRoundTripper{
			Transport: loggingTransport,
			Headers:   headers,
		},
	}, nil
}
