package broker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInstall wraps every failure to place decrypted material at its
// destination. Installs are never retried.
var ErrInstall = errors.New("install failed")

// Owner is the uid/gid an installed file is handed to.
type Owner struct {
	UID int
	GID int
}

// OwnerOnly strips group and other bits from mode. A mode left with no
// owner bits becomes DefaultInstallMode.
func OwnerOnly(mode os.FileMode) os.FileMode {
	mode = mode.Perm() & 0o700
	if mode == 0 {
		return DefaultInstallMode
	}
	return mode
}

// Install copies src to dest atomically: the data goes to a temporary file
// beside dest, is synced, gets mode (and owner, when set), and is renamed
// into place. On failure dest is left untouched. Group and other bits in
// mode are ignored.
func Install(src, dest string, mode os.FileMode, owner *Owner) (err error) {
	mode = OwnerOnly(mode)
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: open plaintext: %v", ErrInstall, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("%w: chmod: %v", ErrInstall, err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		return fmt.Errorf("%w: write: %v", ErrInstall, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrInstall, err)
	}
	if owner != nil {
		if err := tmp.Chown(owner.UID, owner.GID); err != nil {
			return fmt.Errorf("%w: chown: %v", ErrInstall, err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrInstall, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrInstall, err)
	}
	return nil
}
