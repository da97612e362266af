// Package events announces dispatch activity on a NATS subject tree.
//
// Publishing is optional: with no server configured the Nop publisher is
// used and every call succeeds. Events are JSON documents published under
// "<prefix>.<type>", for example "imcflow.job.submitted". Delivery is
// best-effort; a publish failure is logged by the caller and never fails a
// dispatch.
package events
