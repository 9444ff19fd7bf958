package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mfenderov/elf/internal/coordinator"
	"github.com/mfenderov/elf/internal/export"
	"github.com/mfenderov/elf/internal/kv"
	"github.com/mfenderov/elf/internal/storage"
	"github.com/mfenderov/elf/pkg/models"
	"github.com/spf13/cobra"
)

var nowFunc = time.Now

var (
	exportFormat string
	exportOutput string
	exportS3     bool
	exportList   bool
	exportFetch  string
)

var exportCmd = &cobra.Command{
	Use:   "export <url>",
	Short: "Export a page's conversation",
	Long: `Write the stored conversation of a page as Markdown or JSON. The file
is named after the page and the date unless --output is given; use
--output - for stdout, or --s3 to upload it to the configured bucket.
--list shows the uploaded exports of the page and --fetch downloads one.

Example:
  elf export https://go.dev/doc/effective_go --format json --s3
  elf export https://go.dev/doc/effective_go --list
  elf export https://go.dev/doc/effective_go --fetch elf-chat-1a2b3c-2024-05-01.json -o -`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "export format: md, json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, - for stdout")
	exportCmd.Flags().BoolVar(&exportS3, "s3", false, "upload the export to S3/MinIO")
	exportCmd.Flags().BoolVar(&exportList, "list", false, "list the page's uploaded exports")
	exportCmd.Flags().StringVar(&exportFetch, "fetch", "", "download an uploaded export by file name")
	exportCmd.MarkFlagsMutuallyExclusive("s3", "list", "fetch")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pageURL := args[0]

	switch {
	case exportList:
		return listExports(cmd, pageURL)
	case exportFetch != "":
		return fetchExport(cmd, pageURL, exportFetch)
	}

	exporter, err := export.NewExporter(exportFormat)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	var messages []models.Message
	if err := a.store.Get(ctx, models.MessagesKey(pageURL), &messages); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("no conversation stored for %s", pageURL)
		}
		return err
	}

	conv := &export.Conversation{URL: pageURL, ExportedAt: nowFunc(), Messages: messages}
	if page, err := a.coord.Page(ctx, pageURL); err == nil {
		conv.Title = page.Title
	} else if !errors.Is(err, coordinator.ErrPageNotFound) {
		return err
	}

	var buf bytes.Buffer
	if err := exporter.Export(conv, &buf); err != nil {
		return fmt.Errorf("failed to export: %w", err)
	}
	filename := export.Filename(conv, exporter)

	switch {
	case exportS3:
		return uploadExport(cmd, conv, exporter, filename, buf.Bytes())
	case exportOutput == "-":
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
		return err
	default:
		if exportOutput != "" {
			filename = exportOutput
		}
		if err := os.WriteFile(filename, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(conv.Messages), filename)
		return nil
	}
}

func storageClient() (*storage.Client, error) {
	s := GetConfig().Storage
	return storage.New(storage.Config{
		Endpoint:        s.Endpoint,
		Bucket:          s.Bucket,
		AccessKeyID:     s.AccessKeyID,
		SecretAccessKey: s.SecretAccessKey,
		UseSSL:          s.UseSSL,
	})
}

func uploadExport(cmd *cobra.Command, conv *export.Conversation, exporter export.Exporter, filename string, data []byte) error {
	ctx := cmd.Context()

	client, err := storageClient()
	if err != nil {
		return err
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return err
	}

	objectName, err := client.PutExport(ctx, conv.URL, filename, exporter.ContentType(), data)
	if err != nil {
		return err
	}
	files, err := client.ListExports(ctx, conv.URL)
	if err != nil {
		return err
	}
	err = client.PutMetadata(ctx, storage.ExportMetadata{
		URL:          conv.URL,
		Title:        conv.Title,
		ExportedAt:   conv.ExportedAt,
		MessageCount: len(conv.Messages),
		Files:        files,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Uploaded s3://%s/%s\n", client.Bucket(), objectName)
	return nil
}

func listExports(cmd *cobra.Command, pageURL string) error {
	client, err := storageClient()
	if err != nil {
		return err
	}

	meta, err := client.GetMetadata(cmd.Context(), pageURL)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n%s\nlast export %s, %d messages\n",
		meta.Title, meta.URL, meta.ExportedAt.Format("2006-01-02 15:04"), meta.MessageCount)
	for _, f := range meta.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	return nil
}

func fetchExport(cmd *cobra.Command, pageURL, filename string) error {
	client, err := storageClient()
	if err != nil {
		return err
	}

	data, err := client.GetExport(cmd.Context(), pageURL, filename)
	if err != nil {
		return err
	}

	target := exportOutput
	if target == "" {
		target = filename
	}
	if target == "-" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s\n", target)
	return nil
}
