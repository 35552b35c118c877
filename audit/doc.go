// Package audit bridges orderflow lifecycle events to an audit trail
// backend. It implements the hook interfaces from [hook] and turns each
// lifecycle event into a structured [AuditEvent] delivered through a
// caller-supplied [Recorder].
//
// The package defines no storage of its own. Callers adapt their audit
// backend with [RecorderFunc] and register the extension at build time:
//
//	ext := audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.AuditEvent) error {
//	    return trail.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	}))
//
//	eng, err := engine.Build(c, engine.WithExtension(ext))
//
// By default every action in [AllActions] is emitted. Use [WithActions]
// to restrict the set, e.g. to only terminal outcomes:
//
//	audit.New(rec, audit.WithActions(
//	    audit.ActionOrderCompleted,
//	    audit.ActionOrderCancelled,
//	    audit.ActionEventDeadLettered,
//	))
//
// Recorder failures are logged and swallowed: the audit trail is
// best-effort and never blocks order processing.
package audit
