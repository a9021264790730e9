package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tendant/content-versions/internal/document"
	"github.com/tendant/content-versions/pkg/contentstore"
)

func NewPutCommand() *cobra.Command {
	var (
		path     string
		create   bool
		title    string
		mimeType string
	)

	cmd := &cobra.Command{
		Use:   "put <document-id> <file>",
		Short: "Store a file as document content",
		Long: `Store a file as the content of a document. Use "-" to read from stdin.
With --create a missing document is created first.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, file := args[0], args[1]

			var in io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("failed to open file: %w", err)
				}
				defer f.Close()
				in = f
			}

			return withApp(cmd, func(ctx context.Context, a *app) error {
				if create {
					err := a.repo.Create(ctx, &document.Document{ID: id, Title: title, MimeType: mimeType})
					if err != nil && !errors.Is(err, document.ErrExists) {
						return err
					}
				}

				var doc *document.Document
				err := a.repo.RunInTx(ctx, func(ctx context.Context) error {
					current, err := a.repo.Get(ctx, id)
					if err != nil {
						return err
					}
					doc, err = a.store.SetContentAt(ctx, current, contentstore.ParsePath(path), in)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %d\n", doc.ID, doc.Version)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "content property path (default: primary content)")
	cmd.Flags().BoolVar(&create, "create", false, "create the document when it does not exist")
	cmd.Flags().StringVar(&title, "title", "", "title for a created document")
	cmd.Flags().StringVar(&mimeType, "mime-type", "application/octet-stream", "mime type for a created document")
	return cmd
}

func NewGetCommand() *cobra.Command {
	var path, output string

	cmd := &cobra.Command{
		Use:   "get <document-id>",
		Short: "Write document content to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create output file: %w", err)
					}
					defer f.Close()
					out = f
				}

				return a.repo.RunInTx(ctx, func(ctx context.Context) error {
					doc, err := a.repo.Get(ctx, args[0])
					if err != nil {
						return err
					}
					rc, err := a.store.GetContentAt(ctx, doc, contentstore.ParsePath(path))
					if err != nil {
						return err
					}
					if rc == nil {
						return fmt.Errorf("document %s has no content at %q", doc.ID, path)
					}
					defer rc.Close()
					_, err = io.Copy(out, rc)
					return err
				})
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "content property path (default: primary content)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func NewRemoveCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "rm <document-id>",
		Short: "Remove document content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var doc *document.Document
				err := a.repo.RunInTx(ctx, func(ctx context.Context) error {
					current, err := a.repo.Get(ctx, args[0])
					if err != nil {
						return err
					}
					doc, err = a.store.UnsetContentAt(ctx, current, contentstore.ParsePath(path))
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %d\n", doc.ID, doc.Version)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&path, "path", "p", "", "content property path (default: primary content)")
	return cmd
}
