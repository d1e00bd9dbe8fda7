package main

import (
	"fmt"
	"os/user"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	redsocks "github.com/impostorkeanu/redsocks-go"
)

// dropPrivileges implements spec §6's `chroot`/`user`/`group` base
// settings: chroot first (while still root, so the new root is reachable),
// then permanently drop to the configured group and user.
//
// Grounded on the teacher repo's use of golang.org/x/sys/unix for raw
// kernel-facing calls (nft/nft.go); no pack repo performs a privilege
// drop, so this follows the standard setgid-then-setuid ordering directly.
func dropPrivileges(base redsocks.BaseConfig, log *redsocks.Logger) error {
	if base.Chroot != "" {
		if err := unix.Chroot(base.Chroot); err != nil {
			return fmt.Errorf("chroot(%q): %w", base.Chroot, err)
		}
		if err := unix.Chdir("/"); err != nil {
			return fmt.Errorf("chdir after chroot: %w", err)
		}
		log.Info("chrooted", zap.String("path", base.Chroot))
	}

	if base.Group != "" {
		gid, err := lookupGID(base.Group)
		if err != nil {
			return err
		}
		if err := unix.Setgid(gid); err != nil {
			return fmt.Errorf("setgid(%d): %w", gid, err)
		}
		log.Info("dropped group privileges", zap.String("group", base.Group), zap.Int("gid", gid))
	}

	if base.User != "" {
		uid, err := lookupUID(base.User)
		if err != nil {
			return err
		}
		if err := unix.Setuid(uid); err != nil {
			return fmt.Errorf("setuid(%d): %w", uid, err)
		}
		log.Info("dropped user privileges", zap.String("user", base.User), zap.Int("uid", uid))
	}

	return nil
}

func lookupUID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("looking up user %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("parsing uid for user %q: %w", name, err)
	}
	return uid, nil
}

func lookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("looking up group %q: %w", name, err)
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, fmt.Errorf("parsing gid for group %q: %w", name, err)
	}
	return gid, nil
}
