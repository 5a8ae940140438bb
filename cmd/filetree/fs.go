package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/gobeaver/filetree"
	"github.com/spf13/cobra"
)

var (
	mkdirParents bool
	putOpts      struct {
		overwrite   bool
		parents     bool
		contentType string
	}
	checksumAlgorithm string
)

// withTree runs fn against a freshly opened tree.
func withTree(cmd *cobra.Command, fn func(ctx context.Context, root filetree.Directory) error) error {
	tree, _, logger, err := openTree(cmd, false)
	if err != nil {
		return err
	}
	defer tree.Close()
	defer func() { _ = logger.Sync() }()
	return fn(cmd.Context(), tree.Root)
}

func pathArg(args []string, i int) []string {
	if len(args) <= i {
		return nil
	}
	return filetree.SplitPath(args[i])
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTree(cmd, func(ctx context.Context, root filetree.Directory) error {
			node, err := root.GetFile(ctx, pathArg(args, 0))
			if err != nil {
				return err
			}

			var files []filetree.File
			switch n := node.(type) {
			case filetree.Directory:
				if files, err = n.Children(ctx); err != nil {
					return err
				}
			default:
				files = []filetree.File{n}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, f := range files {
				info, err := f.Stat(ctx)
				if err != nil {
					return err
				}
				kind := "-"
				if filetree.IsDirectory(f) {
					kind = "d"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", kind, info.Size, info.LastModified.Format("2006-01-02 15:04"), f.Name())
			}
			return w.Flush()
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTree(cmd, func(ctx context.Context, root filetree.Directory) error {
			data, err := filetree.ReadPath(ctx, root, pathArg(args, 0))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var findCmd = &cobra.Command{
	Use:   "find <query> [path]",
	Short: "Find descendants by name",
	Long:  "The query is a case-insensitive substring, or a glob when it contains * ? or [.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTree(cmd, func(ctx context.Context, root filetree.Directory) error {
			base := pathArg(args, 1)
			node, err := root.GetFile(ctx, base)
			if err != nil {
				return err
			}
			dir, ok := node.(filetree.Directory)
			if !ok {
				return filetree.NewPathError("find", base, filetree.ErrNotDir)
			}
			results, err := dir.Search(ctx, args[0])
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), "/"+filetree.EncodePath(filetree.JoinPath(base, r.Path...)))
			}
			return nil
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTree(cmd, func(ctx context.Context, root filetree.Directory) error {
			path := pathArg(args, 0)
			if len(path) == 0 {
				return filetree.NewPathError("mkdir", nil, filetree.ErrExist)
			}
			if mkdirParents {
				_, err := filetree.MkdirAll(ctx, root, path)
				return err
			}
			node, err := root.GetFile(ctx, path[:len(path)-1])
			if err != nil {
				return err
			}
			parent, ok := node.(filetree.Directory)
			if !ok {
				return filetree.NewPathError("mkdir", path[:len(path)-1], filetree.ErrNotDir)
			}
			_, err = parent.AddDirectory(ctx, path[len(path)-1])
			return err
		})
	},
}

var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <path>",
	Short: "Upload a local file, or stdin with -",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if args[0] == "-" {
			data, err = io.ReadAll(cmd.InOrStdin())
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return err
		}

		return withTree(cmd, func(ctx context.Context, root filetree.Directory) error {
			f, err := filetree.Put(ctx, root, pathArg(args, 1), data,
				filetree.WithOverwrite(putOpts.overwrite),
				filetree.WithCreateParents(putOpts.parents),
				filetree.WithContentType(putOpts.contentType))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\n", f.ID(), len(data))
			return nil
		})
	},
}

var checksumCmd = &cobra.Command{
	Use:   "checksum <path>",
	Short: "Print the checksum of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTree(cmd, func(ctx context.Context, root filetree.Directory) error {
			f, err := root.GetFile(ctx, pathArg(args, 0))
			if err != nil {
				return err
			}
			sum, err := filetree.Checksum(ctx, f, filetree.ChecksumAlgorithm(checksumAlgorithm))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(lsCmd, catCmd, findCmd, mkdirCmd, putCmd, checksumCmd)

	mkdirCmd.Flags().BoolVarP(&mkdirParents, "parents", "p", false, "Create missing parents")

	fls := putCmd.Flags()
	fls.BoolVar(&putOpts.overwrite, "overwrite", false, "Replace an existing file")
	fls.BoolVarP(&putOpts.parents, "parents", "p", false, "Create missing parent directories")
	fls.StringVar(&putOpts.contentType, "content-type", "", "Content type (guessed from the name when empty)")

	checksumCmd.Flags().StringVar(&checksumAlgorithm, "algorithm", string(filetree.ChecksumSHA256), "md5, sha1, sha256, sha512, crc32 or xxhash")
}
