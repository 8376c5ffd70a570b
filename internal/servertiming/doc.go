// Package servertiming instruments net/http responses with a Server-Timing
// header.
//
// The middleware attaches a Timing to every request context. Handler code
// fetches it with FromContext and records measurements while it works:
//
//	st := servertiming.FromContext(r.Context())
//	st.StartTime("db", "Database")
//	rows := query()
//	st.EndTime("db")
//
// When the response head is about to be written the collected measurements are
// serialized into a single Server-Timing value. If trailers are enabled and the
// protocol allows them, emission is deferred until the handler returns and the
// value is sent as a trailer after the body instead.
package servertiming
