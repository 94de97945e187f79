// Package loop is a reference bounded multi-actor conversation.
//
// GroupChat gives each Actor a turn in round-robin order, forwards every
// message and artifact to the orchestrator's Sink, and evaluates the stop
// predicate after each message. Scripted actors replay turns from a YAML (or
// JSON) transcript, which makes whole tasks reproducible from a file.
package loop
