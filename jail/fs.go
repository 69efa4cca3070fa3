// Copyright 2026 The Stockade Authors
// SPDX-License-Identifier: Apache-2.0

package jail

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// skeletonDirs is the minimal top-level layout created under every
// confinement root. Creation is idempotent; directories that already
// exist are left alone.
var skeletonDirs = []string{
	"bin", "lib", "lib32", "lib64", "usr", "etc", "tmp", "proc", "dev", "sys",
}

// confiner builds the jail filesystem: skeleton directories, the
// configured mounts, and finally the root switch. Mount targets are
// resolved against the pre-switch absolute path of the confinement
// root, so every mount must be installed before chroot — afterwards
// those paths no longer exist.
type confiner struct {
	root   string
	mounts []MountSpec

	// Syscall seams, replaced by tests with recorders.
	mount  func(src, target, fstype string, flags uintptr, data string) error
	chroot func(dir string) error
	chdir  func(dir string) error
}

func newConfiner(root string, mounts []MountSpec) *confiner {
	return &confiner{
		root:   root,
		mounts: mounts,
		mount: func(src, target, fstype string, flags uintptr, data string) error {
			return unix.Mount(src, target, fstype, flags, data)
		},
		chroot: unix.Chroot,
		chdir:  os.Chdir,
	}
}

func (c *confiner) apply() error {
	if err := c.createSkeleton(); err != nil {
		return err
	}
	for i := range c.mounts {
		if err := c.installMount(&c.mounts[i]); err != nil {
			return err
		}
	}
	if err := c.chroot(c.root); err != nil {
		return stageErrorf(StageFilesystem, "chroot %s: %w", c.root, err)
	}
	if err := c.chdir("/"); err != nil {
		return stageErrorf(StageFilesystem, "chdir to new root: %w", err)
	}
	return nil
}

func (c *confiner) createSkeleton() error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return stageErrorf(StageFilesystem, "create root: %w", err)
	}
	for _, dir := range skeletonDirs {
		if err := os.MkdirAll(filepath.Join(c.root, dir), 0o755); err != nil {
			return stageErrorf(StageFilesystem, "create skeleton %s: %w", dir, err)
		}
	}
	return nil
}

func (c *confiner) installMount(m *MountSpec) error {
	target := m.targetPath(c.root)
	if err := ensureTarget(m.Src, target); err != nil {
		return stageErrorf(StageFilesystem, "prepare target for %s: %w", m.Src, err)
	}

	var flags uintptr
	if m.IsBind {
		flags |= unix.MS_BIND
	}
	if !m.RW {
		flags |= unix.MS_RDONLY
	}
	if err := c.mount(m.Src, target, m.FsType, flags, ""); err != nil {
		return stageErrorf(StageFilesystem, "mount %s on %s: %w", m.Src, target, err)
	}

	// The kernel ignores MS_RDONLY on the initial bind; a read-only
	// bind needs a second remount pass to take effect.
	if m.IsBind && !m.RW {
		remountFlags := uintptr(unix.MS_REMOUNT | unix.MS_BIND | unix.MS_RDONLY)
		if err := c.mount("", target, "", remountFlags, ""); err != nil {
			return stageErrorf(StageFilesystem, "remount %s read-only: %w", target, err)
		}
	}
	return nil
}

// ensureTarget makes the mount destination exist: an empty regular
// file when the source is an existing regular file, a directory
// otherwise. Virtual sources like "proc" never stat; they get a
// directory, and a genuinely missing bind source is reported by the
// mount syscall itself.
func ensureTarget(src, target string) error {
	srcInfo, err := os.Stat(src)
	if err != nil || srcInfo.IsDir() || !srcInfo.Mode().IsRegular() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(target); err == nil {
		return nil
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}
