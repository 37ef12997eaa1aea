// Command pak inspects, extracts, and builds Unreal Engine .pak archives.
package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/icza/pak"
)

var flagAESKey = &cli.StringFlag{
	Name:  "aes-key",
	Usage: "AES-256 key, <base64|hex> encoded, for encrypted archives",
}

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	app := &cli.App{
		Name:        "pak",
		Usage:       "inspect and build Unreal Engine .pak archives",
		Description: "A reader/writer for Unreal Engine's .pak archive format.",
		Commands: []*cli.Command{
			newInfoCmd(),
			newListCmd(),
			newHashListCmd(),
			newGetCmd(),
			newUnpackCmd(log),
			newPackCmd(log),
		},
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		log.Fatal("pak", zap.Error(err))
	}
}

// parseKey decodes the --aes-key flag, returning nil if it wasn't given.
// Per spec the flag accepts either encoding, so hex is tried first (it
// rejects base64's '+', '/' and '=' outright) and base64 is the fallback.
func parseKey(c *cli.Context) ([]byte, error) {
	raw := c.String(flagAESKey.Name)
	if raw == "" {
		return nil, nil
	}
	if key, err := hex.DecodeString(raw); err == nil {
		return key, nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("--aes-key: not valid hex or base64: %w", err)
	}
	return key, nil
}

func openArchive(c *cli.Context, path string) (*pak.Reader, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	key, err := parseKey(c)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	r, err := pak.Open(f, pak.WithKey(key))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return r, f, nil
}

func newInfoCmd() *cli.Command {
	var check bool
	return &cli.Command{
		Name:      "info",
		Usage:     "print archive metadata",
		ArgsUsage: "<archive.pak>",
		Flags: []cli.Flag{
			flagAESKey,
			&cli.BoolFlag{Name: "check", Destination: &check, Usage: "cross-validate the path-hash and full-directory indices"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.ShowCommandHelp(c, "info")
			}
			r, f, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()

			info := r.Info()
			fmt.Printf("version:      %d\n", info.Version)
			fmt.Printf("mount point:  %s\n", info.MountPoint)
			fmt.Printf("files:        %d\n", info.FileCount)
			fmt.Printf("encrypted:    %t\n", info.EncryptedIndex)
			fmt.Printf("path hashes:  %t\n", info.HasPathHashIndex)
			fmt.Printf("directories:  %t\n", info.HasFullDirectoryIndex)
			if len(info.CompressionMethods) > 0 {
				names := make([]string, len(info.CompressionMethods))
				for i, m := range info.CompressionMethods {
					names[i] = string(m)
				}
				fmt.Printf("compression:  %s\n", strings.Join(names, ", "))
			}

			if check {
				if err := r.VerifyIndex(); err != nil {
					return fmt.Errorf("index check failed: %w", err)
				}
				fmt.Println("index check: ok")
			}
			return nil
		},
	}
}

func newListCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list every file path in the archive",
		ArgsUsage: "<archive.pak>",
		Flags:     []cli.Flag{flagAESKey},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.ShowCommandHelp(c, "list")
			}
			r, f, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()

			files, err := r.Files()
			if err != nil {
				return err
			}
			for _, path := range files {
				fmt.Println(path)
			}
			return nil
		},
	}
}

func newHashListCmd() *cli.Command {
	return &cli.Command{
		Name:      "hash-list",
		Usage:     "print each file's path and SHA-1 payload digest",
		ArgsUsage: "<archive.pak>",
		Flags:     []cli.Flag{flagAESKey},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.ShowCommandHelp(c, "hash-list")
			}
			r, f, err := openArchive(c, c.Args().First())
			if err != nil {
				return err
			}
			defer f.Close()

			hashes, err := r.HashList()
			if err != nil {
				return err
			}
			paths := make([]string, 0, len(hashes))
			for p := range hashes {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, path := range paths {
				fmt.Printf("%x  %s\n", hashes[path], path)
			}
			return nil
		},
	}
}

func newGetCmd() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "extract one file to stdout",
		ArgsUsage: "<archive.pak> <path>",
		Flags:     []cli.Flag{flagAESKey},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.ShowCommandHelp(c, "get")
			}
			r, f, err := openArchive(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer f.Close()

			data, err := r.Get(c.Args().Get(1))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}

func newUnpackCmd(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Usage:     "extract every file to a destination directory",
		ArgsUsage: "<archive.pak> <dest-dir>",
		Flags:     []cli.Flag{flagAESKey},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.ShowCommandHelp(c, "unpack")
			}
			r, f, err := openArchive(c, c.Args().Get(0))
			if err != nil {
				return err
			}
			defer f.Close()

			destRoot := c.Args().Get(1)
			files, err := r.Files()
			if err != nil {
				return err
			}

			bar := progressbar.Default(int64(len(files)), "unpacking")
			for _, path := range files {
				dest, err := safeJoin(destRoot, path)
				if err != nil {
					log.Warn("skipping unsafe path", zap.String("path", path), zap.Error(err))
					bar.Add(1)
					continue
				}

				data, err := r.Get(path)
				if err != nil {
					log.Warn("skipping file", zap.String("path", path), zap.Error(err))
					bar.Add(1)
					continue
				}

				if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				bar.Add(1)
			}
			return nil
		},
	}
}

// safeJoin joins root and relPath, rejecting any path that would escape
// root via ".." segments (spec §7: path traversal is fatal for the
// affected entry, not the whole extraction).
func safeJoin(root, relPath string) (string, error) {
	cleaned := filepath.Clean(relPath)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(cleaned) {
		return "", pak.ErrPathTraversal
	}
	joined := filepath.Join(root, cleaned)
	if !strings.HasPrefix(joined, filepath.Clean(root)+string(filepath.Separator)) {
		return "", pak.ErrPathTraversal
	}
	return joined, nil
}

func newPackCmd(log *zap.Logger) *cli.Command {
	var version int
	var compression string
	var mountPoint string
	var pathHashSeed uint64

	return &cli.Command{
		Name:      "pack",
		Usage:     "build an archive from a directory tree",
		ArgsUsage: "<src-dir> <archive.pak>",
		Flags: []cli.Flag{
			flagAESKey,
			&cli.IntFlag{Name: "version", Value: int(pak.VersionLatest), Destination: &version, Usage: "archive format version to write"},
			&cli.StringFlag{Name: "compression", Value: string(pak.CompressionZlib), Destination: &compression, Usage: "compression method: None, Zlib, Gzip, Zstd"},
			&cli.StringFlag{Name: "mount-point", Destination: &mountPoint, Usage: "archive mount point"},
			&cli.Uint64Flag{Name: "path-hash-seed", Destination: &pathHashSeed, Usage: "path-hash seed (default 0)"},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return cli.ShowCommandHelp(c, "pack")
			}
			srcRoot := c.Args().Get(0)
			dstPath := c.Args().Get(1)

			key, err := parseKey(c)
			if err != nil {
				return err
			}

			var paths []string
			if err := filepath.Walk(srcRoot, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if info.IsDir() {
					return nil
				}
				rel, err := filepath.Rel(srcRoot, p)
				if err != nil {
					return err
				}
				paths = append(paths, filepath.ToSlash(rel))
				return nil
			}); err != nil {
				return fmt.Errorf("walk %s: %w", srcRoot, err)
			}
			sort.Strings(paths)

			out, err := os.Create(dstPath)
			if err != nil {
				return err
			}
			defer out.Close()

			builder := pak.NewBuilder(out).
				Version(pak.Version(version)).
				Compression(pak.CompressionMethod(compression)).
				MountPoint(mountPoint).
				PathHashSeed(pathHashSeed).
				Logger(log)
			if key != nil {
				builder = builder.Encrypt(key, pak.AESCipher)
			}

			w, err := builder.Build()
			if err != nil {
				return err
			}

			bar := progressbar.Default(int64(len(paths)), "packing")
			for _, rel := range paths {
				data, err := os.ReadFile(filepath.Join(srcRoot, filepath.FromSlash(rel)))
				if err != nil {
					return fmt.Errorf("%s: %w", rel, err)
				}
				if err := w.WriteFile(rel, data); err != nil {
					return fmt.Errorf("%s: %w", rel, err)
				}
				bar.Add(1)
			}

			return w.Close()
		},
	}
}
