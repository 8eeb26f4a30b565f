// Package entitlement resolves whether an account may access premium
// content, with a best-effort cache in front of the subscription store.
//
// Dependents inherit the entitlement of their linked guardian. A single
// subscription change therefore affects several cached flags, which is why
// Invalidator drops the guardian's key together with every dependent's key
// rather than overwriting them.
//
// Trial and premium both map to a single boolean flag in the cache.
// Callers that need to tell them apart use Resolver.Status.
package entitlement
