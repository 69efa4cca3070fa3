// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

// Package jail builds and supervises a single isolated process using
// Linux namespaces, bind mounts, chroot, and resource limits.
//
// The central types are [Spec], the immutable description of one jail,
// and [Supervisor], which runs it. A run creates exactly one child
// process by re-executing the current binary (/proc/self/exe) with the
// requested namespaces applied atomically at clone time. The child then
// executes a fixed stage pipeline: identity mapping (when a user
// namespace was requested), hostname, filesystem confinement (skeleton
// directories, bind mounts, root switch), privilege drop (setgid,
// setuid, rlimits), and finally exec of the target program. Each stage
// must succeed before the next begins; a half-built jail never receives
// the payload.
//
// Stage failures carry a [StageError] naming the stage and the
// kernel-reported cause. The child reports its stage error to the
// parent over a dedicated pipe before terminating, so the supervisor
// surfaces a typed error (for example an exec failure) rather than an
// opaque exit status.
//
// Any binary that embeds the supervisor must call [MaybeChild] first
// thing in main: the supervisor re-executes that same binary to create
// the child, and MaybeChild intercepts the re-execution before any
// other code runs.
//
// Mount state is global to the mount namespace under construction, so
// concurrent runs must not share a confinement root. That is a caller
// contract; the package does not enforce it.
package jail
