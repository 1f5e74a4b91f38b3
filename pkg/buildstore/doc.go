/*
Package buildstore manages uploaded game-server build archives.

Each build version is one directory under the store root, created by
extracting an uploaded zip archive. Uploads are spooled to a temp file
first so a half-received archive never becomes a half-extracted version.
Archive entries that would escape their version directory are rejected.

# Executable discovery

A version's server executable is found by walking the extracted tree
depth-first for the first file that looks like a server binary (.x86_64 or
.exe suffix) and is not Unity's crash handler. Extraction marks these
executable, since zip archives built on Windows lose the permission bits.

# Purge

Purge deletes every version directory not named in the caller's in-use
set. Callers snapshot the set of versions referenced by live children
before listing the store, so a server spawned mid-purge can only reference
a version the snapshot already protected.
*/
package buildstore
