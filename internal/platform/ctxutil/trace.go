package ctxutil

import "context"

type traceKey struct{}

// TraceData correlates one inbound request with the records and tickets it
// produces.
type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(Default(ctx), traceKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	if ctx == nil {
		return nil
	}
	td, _ := ctx.Value(traceKey{}).(*TraceData)
	return td
}

// TraceID returns the request trace id or "" when none is attached.
func TraceID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		return td.TraceID
	}
	return ""
}

// LogFields returns the correlation fields present on ctx as a logger
// key/value list. Absent values are omitted.
func LogFields(ctx context.Context) []interface{} {
	var kv []interface{}
	if td := GetTraceData(ctx); td != nil {
		if td.TraceID != "" {
			kv = append(kv, "trace_id", td.TraceID)
		}
		if td.RequestID != "" {
			kv = append(kv, "request_id", td.RequestID)
		}
	}
	if a := GetActor(ctx); a != nil {
		if a.TenantID != "" {
			kv = append(kv, "tenant_id", a.TenantID)
		}
		if a.Subject != "" {
			kv = append(kv, "actor", a.Subject)
		}
	}
	return kv
}

// Default returns context.Background() when ctx is nil.
func Default(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
