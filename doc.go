// Package rxfetch wraps a single HTTP request in a cold, single-value stream.
//
// Creating a Fetch performs no work. The request is sent when the result is
// first subscribed to, and never more than once: a second subscription fails
// with ErrAlreadySubscribed. The Response carries status and headers right
// away, while the body is read lazily and may only be consumed once.
//
// Status-based failure is opt-in through FailOnHTTPError and
// FailIfStatusNotIn. Text and JSON apply FailOnHTTPError before reading the
// body.
//
// When a Sink is attached, the exchange is recorded as a nock script that can
// be pasted into a test or stored in a cassette (see package cassette) and
// replayed without network access:
//
//	nock('http://example.com')
//	  .get('/succeed.txt')
//	  .reply(200, 'hello world')
package rxfetch
