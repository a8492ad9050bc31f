// Package notify fans RSVP changes out to project stakeholders.
//
// A single event is resolved to recipients (project owner plus collaborators with the
// planner role), filtered through a content-based dedup window, persisted as in-app
// records, and then delivered by email and browser push. Only the record insert is
// durable; email and push are best-effort and never fail the caller.
package notify
