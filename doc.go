// Package flysystem is a backend-agnostic filesystem facade with an
// in-memory metadata cache. Every read answers from the cache when it can;
// every mutation reconciles the cache with what actually happened on the
// backend.
//
// Components:
//   - Backend: the raw storage contract (e.g. memory, local disk, S3).
//   - objectCache: path -> partial metadata records plus per-directory
//     listing completeness. The only decider of whether a cached answer is
//     trustworthy.
//   - Filesystem: orchestration and precondition assertions; holds no
//     namespace state itself.
//
// Existence is a three-valued question. A confirmed record answers
// "present"; a complete parent listing answers "absent" for paths not in it;
// everything else is "unknown" and goes to the backend. Backend failures
// never mutate the cache, so a caller that sees an error also knows the
// cached view did not move.
//
// The cache is per-process and per-facade. It is an accelerator, not a
// coherence mechanism: out-of-band backend mutations are invisible until
// FlushCache or a fresh listing.
package flysystem
