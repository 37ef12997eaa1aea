/*

Package pak is a reader and writer for Unreal Engine's `.pak` archive file
format: a content-addressed, optionally-encrypted, optionally-compressed
bundle format used to ship game content.

This implementation reads and writes its own self-consistent layout of
versions 1 through 11, including variants that encrypt the index, encrypt
each file's payload, and compress file payloads in fixed-size blocks. Its
archives round-trip through this package; they are not byte-identical to
archives produced by stock engine tooling (see DESIGN.md for the layout
choices), and stock archives are not guaranteed to open with it.

Information sources:

- UE4/UE5 `.pak` format as reverse-engineered by the modding community
  (U4PakTool, repak, UnrealPak source drops).

- Package layout: footer -> primary index -> path-hash index -> full
  directory index, each sealed with pad-then-SHA1-then-encrypt, as described
  in the accompanying SPEC_FULL.md.

The package is organized leaves-first: primitives (hashing, alignment,
cipher/compressor interfaces) at the bottom, the Entry and Index codecs in
the middle, and Reader/Writer at the top. Command-line packing/unpacking
lives in ./cmd/pak and is not part of this package's API surface.

*/
package pak
