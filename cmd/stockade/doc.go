// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

// Command stockade runs programs inside a Linux process jail.
//
// A jail is described by a spec file (JSON, JSONC, or YAML) naming the
// target program, the namespaces to create, bind mounts and a chroot
// directory for filesystem confinement, the identity to drop to, and
// resource ceilings. See the jail package for the execution model.
//
// Subcommands:
//
//	stockade run <spec-file>       run the jail, passing the target's
//	                               exit status through (signal deaths
//	                               exit 128+signal, timeouts exit 124)
//	stockade validate <spec-file>  pre-flight check without running
//	stockade show <spec-file>      print the normalized spec
//	stockade version               print version information
//
// The binary re-executes itself to become the jail child; that path is
// intercepted by jail.MaybeChild before any command dispatch.
package main
