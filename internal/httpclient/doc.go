// Package httpclient provides the HTTP plumbing shared by the measurement
// components.
//
// [NewClient] builds a client with a connection pool sized for parallel
// transfer threads. [RequestBuilder] attaches static headers, credentials
// from an [auth.Provider] and, when enabled, W3C trace context:
//
//	builder := httpclient.NewRequestBuilder(provider, false)
//	req, err := builder.Build(ctx, http.MethodPost, uploadURL, httpclient.RandomBody(1<<20))
//
// Non-2xx responses are turned into [StatusError] by [CheckResponse].
package httpclient
